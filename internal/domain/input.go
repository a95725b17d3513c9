package domain

import "time"

type InputKind string

const (
	InputMouse    InputKind = "mouse"
	InputKeyboard InputKind = "keyboard"
)

type MouseAction string

const (
	MouseMove   MouseAction = "move"
	MouseDown   MouseAction = "down"
	MouseUp     MouseAction = "up"
	MouseClick  MouseAction = "click"
	MouseScroll MouseAction = "scroll"
)

type KeyAction string

const (
	KeyDown  KeyAction = "down"
	KeyUp    KeyAction = "up"
	KeyPress KeyAction = "press"
)

type MouseInput struct {
	X         int         `json:"x"`
	Y         int         `json:"y"`
	Button    string      `json:"button,omitempty"`
	Action    MouseAction `json:"action"`
	Delta     int         `json:"delta,omitempty"`
	MonitorID string      `json:"monitor_id,omitempty"`
}

type KeyboardInput struct {
	KeyCode   int       `json:"key_code"`
	Key       string    `json:"key,omitempty"`
	Action    KeyAction `json:"action"`
	Modifiers []string  `json:"modifiers,omitempty"`
}

// InputEvent is a tagged variant: Kind selects which of Mouse or Keyboard is set.
type InputEvent struct {
	Kind     InputKind      `json:"kind"`
	Mouse    *MouseInput    `json:"mouse,omitempty"`
	Keyboard *KeyboardInput `json:"keyboard,omitempty"`
}

func (e InputEvent) Validate() error {
	switch e.Kind {
	case InputMouse:
		if e.Mouse == nil || e.Keyboard != nil {
			return Validation("invalid_input_event")
		}
		switch e.Mouse.Action {
		case MouseMove, MouseDown, MouseUp, MouseClick, MouseScroll:
			return nil
		}
	case InputKeyboard:
		if e.Keyboard == nil || e.Mouse != nil {
			return Validation("invalid_input_event")
		}
		switch e.Keyboard.Action {
		case KeyDown, KeyUp, KeyPress:
			return nil
		}
	}
	return Validation("invalid_input_event")
}

type ScreenFrame struct {
	SessionID  string    `json:"session_id"`
	MonitorID  string    `json:"monitor_id,omitempty"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	Data       []byte    `json:"data"`
	Sequence   int64     `json:"sequence"`
	CapturedAt time.Time `json:"captured_at"`
}
