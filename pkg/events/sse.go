package events

import (
	"fmt"
	"io"

	"github.com/openclaw/mission-control/pkg/models"
)

// writeEventFrame writes one SSE frame for ev. The id field carries the
// sequence id so clients resume with Last-Event-ID after a drop.
func writeEventFrame(w io.Writer, ev *models.Event, payload []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Type, ev.SequenceID, payload)
	return err
}

// writeResetFrame tells the client its cursor predates the retained log
// and it must rebuild state from the REST API.
func writeResetFrame(w io.Writer) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: {\"reason\":\"cursor_expired\"}\n\n", TypeEventsReset)
	return err
}

// writeRevokedFrame tells the client its credential was revoked before the
// stream closes.
func writeRevokedFrame(w io.Writer) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: {\"reason\":\"credential_revoked\"}\n\n", TypeSessionRevoked)
	return err
}

// writeHeartbeat writes an SSE comment that keeps intermediaries from
// timing out an idle stream.
func writeHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": heartbeat\n\n")
	return err
}
