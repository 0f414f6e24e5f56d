package webui

import (
	"encoding/xml"
	"net/http"
	"strings"

	"ticketsmith/pkg/feedback"
)

// twimlResponse is the TwiML body the SMS provider relays back to the sender.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// unknownIdentity is used when the provider omits the sender.
const unknownIdentity = "unknown"

// handleSMSIncoming implements POST /sms/incoming. The provider posts form fields From
// and Body; the reply is always a 200 TwiML document so the sender hears back even when
// processing failed.
func (s *Server) handleSMSIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("Unparseable SMS webhook body: %v", err)
	}
	identity := strings.TrimSpace(r.PostFormValue("From"))
	if identity == "" {
		identity = unknownIdentity
	}

	reply, err := s.intake.HandleInbound(r.Context(), identity, r.PostFormValue("Body"))
	if err != nil {
		s.logger.Error("❌ Feedback intake for %s: %v", identity, err)
	}
	text := reply.Text
	if text == "" {
		text = feedback.ReplyRetry
	}
	if reply.Finalized {
		s.logger.Info("📝 Feedback finalized for %s (record %s)", identity, reply.RecordID)
	}

	body, err := xml.Marshal(twimlResponse{Message: text})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode reply")
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}
