package live

import (
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/pcm"
)

// Wire types for the BidiGenerateContent JSON protocol.

type wireSetup struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *wireContent     `json:"systemInstruction,omitempty"`
	Tools             []wireTool       `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *wireBlob `json:"inlineData,omitempty"`
}

type wireBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type clientMessage struct {
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *clientContent `json:"clientContent,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type realtimeInput struct {
	Audio       *wireBlob  `json:"audio,omitempty"`
	MediaChunks []wireBlob `json:"mediaChunks,omitempty"`
}

type clientContent struct {
	Turns        []wireContent `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type serverMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete,omitempty"`
	ServerContent        *serverContent        `json:"serverContent,omitempty"`
	ToolCall             *toolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway               `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn    *wireContent `json:"modelTurn,omitempty"`
	Interrupted  bool         `json:"interrupted,omitempty"`
	TurnComplete bool         `json:"turnComplete,omitempty"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

func newSetup(setup Setup) wireSetup {
	body := setupBody{
		Model: setup.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if setup.Voice != "" {
		body.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	if setup.Instructions != "" {
		body.SystemInstruction = &wireContent{
			Parts: []wirePart{{Text: setup.Instructions}},
		}
	}
	if len(setup.Tools) > 0 {
		decls := make([]functionDeclaration, len(setup.Tools))
		for i, t := range setup.Tools {
			decls[i] = functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		body.Tools = []wireTool{{FunctionDeclarations: decls}}
	}
	return wireSetup{Setup: body}
}

func audioMessage(data []byte, mimeType string) clientMessage {
	return clientMessage{RealtimeInput: &realtimeInput{
		Audio: &wireBlob{MIMEType: mimeType, Data: pcm.ToBase64(data)},
	}}
}

func mediaMessage(data []byte, mimeType string) clientMessage {
	return clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []wireBlob{{MIMEType: mimeType, Data: pcm.ToBase64(data)}},
	}}
}

func textMessage(text string) clientMessage {
	return clientMessage{ClientContent: &clientContent{
		Turns:        []wireContent{{Role: "user", Parts: []wirePart{{Text: text}}}},
		TurnComplete: true,
	}}
}

func toolResponseMessage(responses []ToolResponse) clientMessage {
	out := make([]functionResponse, len(responses))
	for i, r := range responses {
		out[i] = functionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
	}
	return clientMessage{ToolResponse: &toolResponse{FunctionResponses: out}}
}

// decode converts a wire message. Undecodable audio parts are skipped and
// counted in bad.
func (w *serverMessage) decode() (msg *ServerMessage, bad int) {
	msg = &ServerMessage{SetupComplete: w.SetupComplete != nil}

	if sc := w.ServerContent; sc != nil {
		msg.Interrupted = sc.Interrupted
		msg.TurnComplete = sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil {
					data, err := pcm.FromBase64(p.InlineData.Data)
					if err != nil || len(data) == 0 {
						bad++
						continue
					}
					msg.Audio = append(msg.Audio, AudioPart{Data: data, MIMEType: p.InlineData.MIMEType})
				}
				if p.Text != "" {
					msg.Text = append(msg.Text, p.Text)
				}
			}
		}
	}

	if tc := w.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}

	if c := w.ToolCallCancellation; c != nil {
		msg.ToolCallCancellations = c.IDs
	}

	if g := w.GoAway; g != nil {
		msg.GoAway = true
		if d, err := time.ParseDuration(g.TimeLeft); err == nil {
			msg.GoAwayTimeLeft = d
		}
	}

	return msg, bad
}
