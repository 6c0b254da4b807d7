package endpoint

import (
	"errors"

	"github.com/emiago/sipgo/sip"
)

// newAck builds the ACK for a 2xx answer to invite. The recipient is the
// remote target from the answer's Contact. Via is added by the client.
func newAck(invite *sip.Request, ok *sip.Response) *sip.Request {
	recipient := invite.Recipient
	if contact := ok.Contact(); contact != nil {
		recipient = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = invite.SipVersion
	sip.CopyHeaders("Route", invite, ack)
	if h := invite.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := ok.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.ACK})
	}
	maxForwards := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxForwards)
	if h := invite.Contact(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	ack.SetTransport(invite.Transport())
	return ack
}

// newBye builds a BYE for the confirmed dialog of c with the local sequence
// number seq. The caller side addresses the Contact of the 2xx answer, the
// callee side the Contact of the INVITE with From and To swapped.
func newBye(c *call, seq uint32) (*sip.Request, error) {
	if c.invite == nil || c.ok == nil {
		return nil, errors.New("call has no dialog")
	}

	var (
		recipient sip.Uri
		from      sip.FromHeader
		to        sip.ToHeader
	)
	if c.outgoing {
		recipient = c.invite.Recipient
		if contact := c.ok.Contact(); contact != nil {
			recipient = contact.Address
		}
		from = *sip.HeaderClone(c.invite.From()).(*sip.FromHeader)
		to = *sip.HeaderClone(c.ok.To()).(*sip.ToHeader)
	} else {
		contact := c.invite.Contact()
		if contact == nil {
			return nil, errors.New("INVITE carried no Contact")
		}
		recipient = contact.Address
		from = c.ok.To().AsFrom()
		to = c.invite.From().AsTo()
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = c.invite.SipVersion
	maxForwards := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxForwards)
	bye.AppendHeader(&from)
	bye.AppendHeader(&to)
	bye.AppendHeader(sip.HeaderClone(c.invite.CallID()))
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.BYE})
	bye.SetTransport(c.invite.Transport())
	return bye, nil
}
