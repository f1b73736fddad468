package bot

import "context"

// Button is one inline keyboard button attached to a reply. Data is the
// payload echoed back when the user taps it.
type Button struct {
	Label string
	Data  string
}

// Reply is one outbound message. When PhotoURL is set the transport sends the
// photo with Text as its caption.
type Reply struct {
	ChatID   string
	Text     string
	HTML     bool
	Buttons  []Button
	PhotoURL string
}

// Messenger delivers replies to the chat transport.
type Messenger interface {
	Send(ctx context.Context, reply Reply) error
}
