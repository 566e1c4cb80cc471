package instruction

import (
	"strings"
	"testing"
)

func TestParseActions(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	tests := []struct {
		name      string
		body      string
		count     int
		action    Action
		candidate int
	}{
		{"publish with index", "发布 2", 3, ActionPublish, 2},
		{"publish english", "publish 3", 3, ActionPublish, 3},
		{"publish labeled candidate", "发布候选2", 3, ActionPublish, 2},
		{"publish hash index", "确认 #2", 3, ActionPublish, 2},
		{"publish without index or feedback", "发布", 3, ActionUnknown, 0},
		{"bare ok without index", "ok", 3, ActionUnknown, 0},
		{"publish out of range", "发布 7", 3, ActionUnknown, 0},
		{"publish unknown count accepts any index", "发布 7", 0, ActionPublish, 7},
		{"letter selection", "选B", 3, ActionPublish, 2},
		{"bare candidate reference", "candidate 2", 3, ActionPublish, 2},
		{"bare number body", "3", 3, ActionPublish, 3},
		{"numbered suffix", "2号", 3, ActionPublish, 2},
		{"regenerate", "重新生成", 3, ActionRegenerate, 0},
		{"regenerate english", "redo please", 3, ActionRegenerate, 0},
		{"revise with index", "修改 2 增加实际案例", 3, ActionRevise, 2},
		{"revise without index defaults to first", "优化一下结构", 3, ActionRevise, 1},
		{"revise out of range", "修改 9 压缩篇幅", 3, ActionUnknown, 0},
		{"skip", "跳过", 3, ActionSkip, 0},
		{"skip phrase", "今天不发了", 3, ActionSkip, 0},
		{"view", "查看 3", 3, ActionView, 3},
		{"view full text", "看看候选2全文", 3, ActionView, 2},
		{"empty body", "", 3, ActionUnknown, 0},
		{"whitespace body", "   \n  ", 3, ActionUnknown, 0},
		{"unrelated prose", "收到，我想想", 3, ActionUnknown, 0},
		{"digit buried in prose is not a selection", "这篇大概要 2 天后才能定", 3, ActionUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.Parse(tt.body, tt.count)
			if got.Action != tt.action {
				t.Fatalf("Parse(%q) action = %s, want %s", tt.body, got.Action, tt.action)
			}
			if got.Candidate != tt.candidate {
				t.Fatalf("Parse(%q) candidate = %d, want %d", tt.body, got.Candidate, tt.candidate)
			}
			if got.Raw != tt.body {
				t.Fatalf("Parse(%q) did not retain raw body", tt.body)
			}
		})
	}
}

func TestParsePriorityPublishWinsOverRevise(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	got := parser.Parse("确认发布候选 1，不用再修改了", 3)
	if got.Action != ActionPublish {
		t.Fatalf("action = %s, want publish", got.Action)
	}
	if got.Candidate != 1 {
		t.Fatalf("candidate = %d, want 1", got.Candidate)
	}
}

func TestParsePublishDefaultNeedsFeedback(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	// Commentary lines license the default to candidate 1; a bare
	// approval token with nothing else does not.
	got := parser.Parse("发布\n建议开头再紧凑些", 3)
	if got.Action != ActionPublish || got.Candidate != 1 {
		t.Fatalf("got %s candidate %d, want publish candidate 1", got.Action, got.Candidate)
	}

	got = parser.Parse("确认", 3)
	if got.Action != ActionUnknown || got.Candidate != 0 {
		t.Fatalf("got %s candidate %d, want unknown", got.Action, got.Candidate)
	}
}

func TestParsePublishKeepsSuggestionFeedback(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	got := parser.Parse("发布，但建议下次增加数据", 3)
	if got.Action != ActionPublish || got.Candidate != 1 {
		t.Fatalf("got %s candidate %d, want publish candidate 1", got.Action, got.Candidate)
	}
	if !strings.Contains(got.Feedback, "建议下次增加数据") {
		t.Fatalf("feedback = %q, want the suggestion retained", got.Feedback)
	}
}

func TestParseNumberedFeedbackLines(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	body := "发布 1\n1. 少用术语\n2、多举例子"
	got := parser.Parse(body, 3)
	if got.Action != ActionPublish || got.Candidate != 1 {
		t.Fatalf("got %s candidate %d, want publish candidate 1", got.Action, got.Candidate)
	}
	if !strings.Contains(got.Feedback, "少用术语") || !strings.Contains(got.Feedback, "多举例子") {
		t.Fatalf("feedback = %q, want both numbered lines", got.Feedback)
	}
}

func TestParseRegenerateDirection(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	tests := []struct {
		body      string
		direction string
	}{
		{"重新生成，方向：更多实战案例", "更多实战案例"},
		{"regenerate, focus on: smaller teams", "smaller teams"},
		{"重新生成", ""},
	}

	for _, tt := range tests {
		got := parser.Parse(tt.body, 3)
		if got.Action != ActionRegenerate {
			t.Fatalf("Parse(%q) action = %s, want regenerate", tt.body, got.Action)
		}
		if got.Direction != tt.direction {
			t.Fatalf("Parse(%q) direction = %q, want %q", tt.body, got.Direction, tt.direction)
		}
	}
}

func TestParseReviseCarriesCritique(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	got := parser.Parse("修改 2 开头太平淡", 3)
	if got.Action != ActionRevise || got.Candidate != 2 {
		t.Fatalf("got %s candidate %d, want revise candidate 2", got.Action, got.Candidate)
	}
	if !strings.Contains(got.Feedback, "开头太平淡") {
		t.Fatalf("feedback = %q, want the inline critique", got.Feedback)
	}
}

func TestParseReviseCritiqueLines(t *testing.T) {
	t.Parallel()

	parser := NewParser(DefaultTokens())

	body := "修改 1\n开头的问题：太平淡\n结尾应该呼应主题"
	got := parser.Parse(body, 3)
	if got.Action != ActionRevise || got.Candidate != 1 {
		t.Fatalf("got %s candidate %d, want revise candidate 1", got.Action, got.Candidate)
	}
	if !strings.Contains(got.Feedback, "太平淡") || !strings.Contains(got.Feedback, "呼应主题") {
		t.Fatalf("feedback = %q, want both critique lines", got.Feedback)
	}
}

func TestInstructionEncodeDecode(t *testing.T) {
	t.Parallel()

	in := Instruction{Action: ActionPublish, Candidate: 2, Feedback: "建议加数据", Raw: "发布 2"}
	decoded, err := Decode(in.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != in {
		t.Fatalf("round trip = %+v, want %+v", decoded, in)
	}
}
