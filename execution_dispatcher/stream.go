package execution_dispatcher

import (
	"encoding/json"
	"strings"
	"time"
)

// record is one line of `--output-format stream-json`. Only the fields used
// are decoded.
type record struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`

	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`

	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	Usage        Usage   `json:"usage"`
}

// parseLine turns one stdout line into events. Blank lines yield nothing;
// anything that is not a typed JSON object is a parse warning.
func parseLine(line []byte) []Event {
	text := strings.TrimSpace(string(line))
	if text == "" {
		return nil
	}

	var rec record
	if err := json.Unmarshal([]byte(text), &rec); err != nil || rec.Type == "" {
		return []Event{{Kind: EventParseWarning, Raw: text}}
	}

	switch rec.Type {
	case "system":
		return []Event{{Kind: EventSystem, SessionID: rec.SessionID, Text: rec.Model}}
	case "assistant":
		if rec.Message == nil {
			return []Event{{Kind: EventParseWarning, Raw: text}}
		}

		var events []Event

		for _, c := range rec.Message.Content {
			switch c.Type {
			case "text":
				if strings.TrimSpace(c.Text) != "" {
					events = append(events, Event{Kind: EventText, Text: c.Text, SessionID: rec.SessionID})
				}
			case "tool_use":
				events = append(events, Event{Kind: EventToolUse, Tool: c.Name, SessionID: rec.SessionID})
			}
		}

		return events
	case "result":
		res := &Result{
			SessionID:  rec.SessionID,
			OutputText: rec.Result,
			IsError:    rec.IsError || (rec.Subtype != "" && rec.Subtype != "success"),
			CostUSD:    rec.TotalCostUSD,
			Duration:   time.Duration(rec.DurationMS) * time.Millisecond,
			NumTurns:   rec.NumTurns,
			Usage:      rec.Usage,
		}

		return []Event{{Kind: EventResult, Text: res.OutputText, SessionID: res.SessionID, Result: res}}
	}

	// user (tool results) and future record types carry nothing to speak.
	return nil
}
