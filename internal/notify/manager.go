package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Channel pairs a notifier with the name recorded in the notification log.
type Channel struct {
	Name     string
	Notifier Notifier
}

// Manager fans alerts out to every configured channel and records each
// delivery attempt. Delivery is fire-and-forget: failures are logged, never
// propagated, so a dead channel cannot stall the scheduler.
type Manager struct {
	channels     []Channel
	logStore     repo.NotificationLogStore
	sendRecovery bool
	log          *zap.Logger
}

func NewManager(channels []Channel, logStore repo.NotificationLogStore, sendRecovery bool, log *zap.Logger) *Manager {
	active := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if c.Notifier != nil {
			active = append(active, c)
		}
	}
	return &Manager{
		channels:     active,
		logStore:     logStore,
		sendRecovery: sendRecovery,
		log:          log,
	}
}

// RecoveryEnabled reports whether recovery notices are configured to send.
func (m *Manager) RecoveryEnabled() bool { return m.sendRecovery }

func (m *Manager) NotifyFailure(ctx context.Context, ep domain.Endpoint, res domain.ProbeResult) {
	title := fmt.Sprintf("🔴 %s is DOWN", ep.Name)
	statusTxt := "n/a"
	if res.HTTPStatus != 0 {
		statusTxt = fmt.Sprintf("%d", res.HTTPStatus)
	}
	text := fmt.Sprintf(
		"URL: %s\nHTTP: %s\nLatency: %.0f ms\nError: %s\nChecked: %s",
		ep.URL, statusTxt, res.LatencyMS, res.Message, res.CheckedAt.Format(time.RFC3339),
	)
	m.dispatch(ctx, ep, title, text)
}

func (m *Manager) NotifyRecovery(ctx context.Context, ep domain.Endpoint, res domain.ProbeResult) {
	if !m.sendRecovery {
		return
	}
	title := fmt.Sprintf("🟢 %s is back online", ep.Name)
	text := fmt.Sprintf(
		"URL: %s\nLatency: %.0f ms\nRecovered: %s",
		ep.URL, res.LatencyMS, res.CheckedAt.Format(time.RFC3339),
	)
	m.dispatch(ctx, ep, title, text)
}

func (m *Manager) dispatch(ctx context.Context, ep domain.Endpoint, title, text string) {
	for _, c := range m.channels {
		err := c.Notifier.Send(ctx, title, text)

		rec := &repo.NotificationRecord{
			EndpointID: ep.ID,
			Channel:    c.Name,
			Status:     "sent",
			Message:    title,
			SentAt:     time.Now().UTC(),
		}
		if err != nil {
			rec.Status = "failed"
			rec.Error = err.Error()
			m.log.Warn("notify_send_failed",
				zap.String("endpoint_id", string(ep.ID)),
				zap.String("channel", c.Name),
				zap.Error(err),
			)
		} else {
			m.log.Info("notify_sent",
				zap.String("endpoint_id", string(ep.ID)),
				zap.String("channel", c.Name),
				zap.String("title", title),
			)
		}

		if m.logStore != nil {
			if err := m.logStore.AppendNotification(ctx, rec); err != nil {
				m.log.Warn("notify_log_error",
					zap.String("endpoint_id", string(ep.ID)),
					zap.Error(err),
				)
			}
		}
	}
}
