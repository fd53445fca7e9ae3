package llm

// CollectStream drains a stream channel into a GenerateResponse, grounded
// on pkg/llm/stream.go's CollectStream (adapted from content-block
// accumulation to plain-text accumulation).
func CollectStream(ch <-chan StreamEvent) GenerateResponse {
	var resp GenerateResponse
	var text string
	for ev := range ch {
		switch ev.Type {
		case StreamEventDelta:
			text += ev.Text
		case StreamEventComplete:
			if ev.Response != nil {
				resp = *ev.Response
			}
		}
	}
	if resp.StopReason == "" && text != "" {
		resp.Text = text
		resp.StopReason = StopReasonEndTurn
	}
	return resp
}
