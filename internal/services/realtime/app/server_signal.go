package server

import (
	"encoding/json"
	"strings"
)

// Call signaling is pure forwarding: the gateway never interprets the SDP or
// candidate contents, it only re-addresses them. A target absent from the
// presence set drops the frame silently; signaling is best-effort and never
// queued.

type signalInboundPayload struct {
	Sender    string          `json:"sender"`
	Target    string          `json:"target"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type signalOutboundPayload struct {
	Sender    string          `json:"sender"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func handleSignalFrame(session *wsSession, h *hub, frame wsFrame) {
	var payload signalInboundPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid signaling payload")
		return
	}

	target := strings.TrimSpace(payload.Target)
	if target == "" || !h.isPresent(target) {
		return
	}

	outbound := signalOutboundPayload{Sender: strings.TrimSpace(payload.Sender)}
	switch frame.Type {
	case "offer":
		outbound.Offer = payload.Offer
	case "answer":
		outbound.Answer = payload.Answer
	case "ice-candidate":
		outbound.Candidate = payload.Candidate
	}

	relayed := wsFrame{
		Type:    frame.Type,
		Payload: mustJSON(outbound),
	}
	for _, peer := range h.sessionsFor(target) {
		_ = peer.writeFrame(relayed)
	}
}
