package dispatcher

import (
	"bytes"
	"io"
	"net/http"
)

// mpegTSPacket is one null MPEG-TS packet: sync byte 0x47, PID 0x1FFF
// (null packet), no adaptation field, payload zeroed. Repeating it a few
// times gives players something to latch onto without any real content.
var mpegTSPacket = func() []byte {
	p := make([]byte, 188)
	p[0] = 0x47
	p[1] = 0x1F
	p[2] = 0xFF
	p[3] = 0x10
	return p
}()

func customStreamBody(packets int) io.ReadCloser {
	buf := bytes.Repeat(mpegTSPacket, packets)
	return io.NopCloser(bytes.NewReader(buf))
}

func customStreamHeaders() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "video/mp2t")
	h.Set("Cache-Control", "no-cache")
	return h
}

// customStream builds a short pre-recorded MPEG-TS stand-in served with
// status 200, matching spec.md §6/§7's custom-stream contract for the
// named failure kinds.
func customStream(kind string) *StreamDetails {
	return &StreamDetails{
		Body:     customStreamBody(4),
		Headers:  customStreamHeaders(),
		Status:   http.StatusOK,
		FinalURL: kind,
	}
}

func userConnectionsExhaustedStream() *StreamDetails  { return customStream("user-connections-exhausted") }
func providerConnectionsExhaustedStream() *StreamDetails {
	return customStream("provider-connections-exhausted")
}
func channelUnavailableStream() *StreamDetails { return customStream("channel-unavailable") }
func accountExpiredStream() *StreamDetails     { return customStream("account-expired") }
