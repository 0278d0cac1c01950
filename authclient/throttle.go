package authclient

import (
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// NormalizeEmail trims and lower-cases addr and checks that it is a bare address.
func NormalizeEmail(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" || len(addr) > 254 {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || parsed.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || !strings.Contains(addr[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return addr, nil
}

// throttle keeps one token bucket per email. Idle buckets expire after a window.
type throttle struct {
	attempts int
	window   time.Duration
	clock    clockwork.Clock

	mu      sync.Mutex
	buckets *gocache.Cache
}

func newThrottle(attempts int, window time.Duration, clock clockwork.Clock) *throttle {
	return &throttle{
		attempts: attempts,
		window:   window,
		clock:    clock,
		buckets:  gocache.New(window, window),
	}
}

func (t *throttle) limiter(key string) *rate.Limiter {
	if v, ok := t.buckets.Get(key); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(t.window/time.Duration(t.attempts)), t.attempts)
	t.buckets.SetDefault(key, lim)
	return lim
}

// allow consumes one attempt for key and reports how long to wait when none is left.
func (t *throttle) allow(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	lim := t.limiter(key)
	t.buckets.SetDefault(key, lim)
	if lim.AllowN(now, 1) {
		return true, 0
	}
	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// reset forgets key's attempts, after a successful sign-in.
func (t *throttle) reset(key string) {
	t.mu.Lock()
	t.buckets.Delete(key)
	t.mu.Unlock()
}
