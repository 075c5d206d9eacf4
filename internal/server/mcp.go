package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Defaults for the get_recent_audio tool.
const (
	defaultToolFormat  = "wav"
	defaultToolSeconds = 30
)

// BufferStatus is the buffer_status tool result.
type BufferStatus struct {
	SampleRate      uint32  `json:"sample_rate"`
	Capacity        int     `json:"capacity"`
	DurationSeconds float64 `json:"duration_seconds"`
	CaptureState    string  `json:"capture_state,omitempty"`
	Device          string  `json:"device,omitempty"`
	DeviceRate      uint32  `json:"device_sample_rate,omitempty"`
	DeviceChannels  int     `json:"device_channels,omitempty"`
}

// CodecList is the list_codecs tool result.
type CodecList struct {
	Codecs []CodecInfo `json:"codecs"`
}

// RecentAudioArgs are the get_recent_audio tool arguments.
type RecentAudioArgs struct {
	Format    string  `json:"format,omitempty" jsonschema:"codec name from list_codecs; defaults to wav"`
	Seconds   float64 `json:"seconds,omitempty" jsonschema:"how many seconds of the most recent audio to return; defaults to 30"`
	Normalize bool    `json:"normalize,omitempty" jsonschema:"scale the clip so its peak is close to full scale"`
}

// NewMCPServer builds the MCP server exposing the buffer tools.
func (s *Server) NewMCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "lifelogger", Version: s.version}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "buffer_status",
		Description: "Report the rolling audio buffer's size and the capture device currently feeding it.",
	}, s.toolBufferStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_codecs",
		Description: "List the audio formats get_recent_audio can produce.",
	}, s.toolListCodecs)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_recent_audio",
		Description: "Return the most recent audio from the microphone buffer, encoded in the requested format.",
	}, s.toolRecentAudio)

	return srv
}

func (s *Server) mcpHandler() http.Handler {
	srv := s.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func (s *Server) toolBufferStatus(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, BufferStatus, error) {
	st := BufferStatus{
		SampleRate:      s.buf.SampleRate(),
		Capacity:        s.buf.Capacity(),
		DurationSeconds: s.buf.Duration().Seconds(),
	}
	if s.capture != nil {
		st.CaptureState = s.capture.State().String()
		if dev, cfg, ok := s.capture.Active(); ok {
			st.Device = dev.Name
			st.DeviceRate = cfg.SampleRate
			st.DeviceChannels = cfg.Channels
		}
	}
	return jsonResult(st), st, nil
}

func (s *Server) toolListCodecs(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, CodecList, error) {
	list := CodecList{Codecs: s.codecInfos()}
	return jsonResult(list), list, nil
}

// jsonResult renders v as the text content of a tool result.
func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

func (s *Server) toolRecentAudio(ctx context.Context, _ *mcp.CallToolRequest, args RecentAudioArgs) (*mcp.CallToolResult, any, error) {
	format := args.Format
	if format == "" {
		format = defaultToolFormat
	}
	secs := args.Seconds
	if secs == 0 {
		secs = defaultToolSeconds
	}
	if secs < 0 {
		return nil, nil, fmt.Errorf("seconds must not be negative, got %g", secs)
	}

	c, data, err := s.encode(ctx, format, time.Duration(secs*float64(time.Second)), args.Normalize)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.AudioContent{Data: data, MIMEType: c.MimeType()},
			&mcp.TextContent{Text: fmt.Sprintf("%.1fs of audio as %s (%d bytes)", secs, format, len(data))},
		},
	}, nil, nil
}
