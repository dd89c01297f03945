package notify

import (
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Permission is the desktop-notification authorization state. It starts
// undecided and is only resolved when desktop notifications are actually
// wanted, never at startup.
type Permission string

const (
	PermissionUndecided Permission = "undecided"
	PermissionGranted   Permission = "granted"
	PermissionDenied    Permission = "denied"
)

// SoundPlayer plays the notification chime.
type SoundPlayer interface {
	Play(volume float64)
}

// DesktopNotifier posts OS-level notifications. RequestPermission resolves
// whether the environment can show them at all.
type DesktopNotifier interface {
	Permission() Permission
	RequestPermission() Permission
	Notify(title, body string, urgent bool)
}

// execSoundPlayer shells out to paplay. A missing binary or a failed play
// degrades to silence; sound is never worth surfacing an error for.
type execSoundPlayer struct {
	logger *zap.Logger
	sample string
}

// NewSoundPlayer returns a paplay-backed player for the given sample file.
func NewSoundPlayer(sample string, logger *zap.Logger) SoundPlayer {
	return &execSoundPlayer{logger: logger, sample: sample}
}

func (p *execSoundPlayer) Play(volume float64) {
	if volume <= 0 {
		return
	}
	if volume > 1 {
		volume = 1
	}
	bin, err := exec.LookPath("paplay")
	if err != nil {
		return
	}
	// paplay volume is 0..65536.
	vol := strconv.Itoa(int(volume * 65536))
	go func() {
		if err := exec.Command(bin, "--volume", vol, p.sample).Run(); err != nil {
			p.logger.Debug("sound playback failed", zap.Error(err))
		}
	}()
}

// execDesktopNotifier shells out to notify-send. Permission maps to binary
// availability and is probed once, on first demand.
type execDesktopNotifier struct {
	mu     sync.Mutex
	logger *zap.Logger
	perm   Permission
	bin    string
}

// NewDesktopNotifier returns a notify-send backed notifier with permission
// still undecided.
func NewDesktopNotifier(logger *zap.Logger) DesktopNotifier {
	return &execDesktopNotifier{logger: logger, perm: PermissionUndecided}
}

func (n *execDesktopNotifier) Permission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perm
}

func (n *execDesktopNotifier) RequestPermission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.perm != PermissionUndecided {
		return n.perm
	}
	bin, err := exec.LookPath("notify-send")
	if err != nil {
		n.perm = PermissionDenied
		n.logger.Info("desktop notifications unavailable", zap.Error(err))
		return n.perm
	}
	n.bin = bin
	n.perm = PermissionGranted
	return n.perm
}

func (n *execDesktopNotifier) Notify(title, body string, urgent bool) {
	n.mu.Lock()
	perm, bin := n.perm, n.bin
	n.mu.Unlock()
	if perm != PermissionGranted {
		return
	}
	urgency := "normal"
	if urgent {
		urgency = "critical"
	}
	go func() {
		err := exec.Command(bin, "--app-name", "Mutamir", "--urgency", urgency, title, body).Run()
		if err != nil {
			n.logger.Debug("desktop notification failed", zap.Error(err))
		}
	}()
}

// NopSinks returns inert sound and desktop sinks for headless contexts.
func NopSinks() (SoundPlayer, DesktopNotifier) {
	return nopSound{}, &nopDesktop{perm: PermissionDenied}
}

type nopSound struct{}

func (nopSound) Play(float64) {}

type nopDesktop struct{ perm Permission }

func (n *nopDesktop) Permission() Permission        { return n.perm }
func (n *nopDesktop) RequestPermission() Permission { return n.perm }
func (n *nopDesktop) Notify(string, string, bool)   {}
