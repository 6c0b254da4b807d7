// Package endpoint implements a small SIP user agent used as the
// cooperating peer in end-to-end scenarios.
//
// It speaks just enough SIP over UDP (INVITE, ACK, BYE) to set up and tear
// down calls, offers ICE host candidates in its SDP, and prints call state
// changes in the same shape pjsua does:
//
//	Ready: listening on udp 127.0.0.1:5070
//	Call 0 state changed to CALLING
//	Call 0 state changed to CONFIRMED
//	ICE negotiation success (2 component(s))
//	Media for call 0 is active
//	Call 0 state changed to DISCONNECTED
//
// Scenarios reference it with the executable "@endpoint".
package endpoint
