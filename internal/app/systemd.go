package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "unq/pkg/logx"
)

// notifier speaks sd_notify when enabled and running under systemd. Outside
// systemd (no NOTIFY_SOCKET) every call is a no-op.
type notifier struct {
	enabled bool
	log     logx.Logger
}

func (n notifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n notifier) ready()    { n.send(daemon.SdNotifyReady) }
func (n notifier) stopping() { n.send(daemon.SdNotifyStopping) }
func (n notifier) reloading() {
	n.send(daemon.SdNotifyReloading)
}

func (n notifier) status(queued int, inFlight int64) {
	n.send(fmt.Sprintf("STATUS=queued=%d in_flight=%d", queued, inFlight))
}

// watchdog pings systemd at half the configured watchdog interval, and
// reports status on the same tick. It returns when ctx is done.
func (n notifier) watchdog(ctx context.Context, status func() (int, int64)) {
	if !n.enabled {
		return
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
	}
	ping := every > 0
	if !ping {
		every = 20 * time.Second
	} else {
		every /= 2
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ping {
				n.send(daemon.SdNotifyWatchdog)
			}
			n.status(status())
		}
	}
}
