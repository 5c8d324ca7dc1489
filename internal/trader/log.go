package trader

import (
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"qtrader/internal/obs"
)

// Message is one timestamped trader log line.
type Message struct {
	Seq    uint64
	At     time.Time
	Status Status
	Text   string
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]-%s: %s", m.At.Format("15:04:05"), m.Status, m.Text)
}

// MessageLog buffers trader messages for an audit sink. Posting also
// echoes to the process log.
type MessageLog struct {
	mu   sync.Mutex
	msgs []Message
	seq  *obs.Sequence
}

func NewMessageLog(seq *obs.Sequence) *MessageLog {
	return &MessageLog{seq: seq}
}

// Post appends one message.
func (l *MessageLog) Post(at time.Time, status Status, format string, args ...any) {
	m := Message{
		Seq:    l.seq.Next(),
		At:     at,
		Status: status,
		Text:   fmt.Sprintf(format, args...),
	}
	logs.Info(m.String())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

// Drain returns the buffered messages and clears the buffer.
func (l *MessageLog) Drain() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.msgs
	l.msgs = nil
	return msgs
}

// Len reports the number of buffered messages.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}
