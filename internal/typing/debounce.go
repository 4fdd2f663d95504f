package typing

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"ledger-chat/internal/timers"
)

// EmitFunc sends a typing signal for the local user.
type EmitFunc func(conversationID string, isTyping bool) error

const idleKey = "idle"

// Debouncer turns keystrokes into typing signals: one start per burst and a
// trailing stop after the idle window.
type Debouncer struct {
	idle   time.Duration
	emit   EmitFunc
	timers *timers.Keyed
	log    *zap.Logger

	conv   string
	typing bool
}

func NewDebouncer(idle time.Duration, sched timers.Scheduler, emit EmitFunc, log *zap.Logger) *Debouncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Debouncer{
		idle:   idle,
		emit:   emit,
		timers: timers.NewKeyed(sched),
		log:    log.Named("typing"),
	}
}

// Typing reports whether a start signal is outstanding.
func (d *Debouncer) Typing() bool { return d.typing }

// Keystroke is called on every change of the compose text.
func (d *Debouncer) Keystroke(conversationID, text string) {
	if strings.TrimSpace(text) == "" {
		if d.typing {
			d.Stop(d.conv)
		}
		return
	}
	if d.typing && d.conv != conversationID {
		d.Stop(d.conv)
	}
	if !d.typing {
		if err := d.emit(conversationID, true); err != nil {
			d.log.Debug("typing start not sent", zap.String("conversation_id", conversationID), zap.Error(err))
			return
		}
		d.typing = true
		d.conv = conversationID
	}
	d.timers.Arm(idleKey, d.idle, func() {
		d.Stop(d.conv)
	})
}

// Stop cancels the idle timer and sends a stop signal right away.
func (d *Debouncer) Stop(conversationID string) {
	d.timers.Cancel(idleKey)
	d.typing = false
	if conversationID == "" {
		return
	}
	if err := d.emit(conversationID, false); err != nil {
		d.log.Debug("typing stop not sent", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// Reset drops any pending idle timer without signalling.
func (d *Debouncer) Reset() {
	d.timers.Cancel(idleKey)
	d.typing = false
	d.conv = ""
}
