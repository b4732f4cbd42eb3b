package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/port"
)

// LogNotifier only logs. It is used when no delivery channel is configured.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n port.Notification) error {
	l.logger.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"recipient": n.Recipient,
		"entity":    n.EntityID,
	}).Info(n.Subject)
	return nil
}

// Fanout delivers to every notifier and joins the failures.
type Fanout []port.Notifier

func (f Fanout) Notify(ctx context.Context, n port.Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
