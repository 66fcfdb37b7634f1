package opstate

import (
	"fmt"
	"strconv"
	"time"
)

const (
	nsBoot         = "boot"
	keyCount       = "count"
	keyResetReason = "last_reset_reason"
	keyResetAt     = "last_reset_at"
)

// Boot describes the device's boot history.
type Boot struct {
	Count int
	// LastResetReason is why the device reset before this boot, or ""
	// if the previous run ended some other way (power loss, a clean
	// shutdown, a watchdog bite).
	LastResetReason string
	LastResetAt     time.Time
}

// Boot returns the boot history without changing it.
func (s *Store) Boot() (Boot, error) {
	var b Boot

	count, err := s.Get(nsBoot, keyCount)
	if err != nil {
		return b, err
	}
	if count != "" {
		if b.Count, err = strconv.Atoi(count); err != nil {
			return b, fmt.Errorf("parse boot count %q: %w", count, err)
		}
	}

	if b.LastResetReason, err = s.Get(nsBoot, keyResetReason); err != nil {
		return b, err
	}
	at, err := s.Get(nsBoot, keyResetAt)
	if err != nil {
		return b, err
	}
	if at != "" {
		if b.LastResetAt, err = time.Parse(time.RFC3339, at); err != nil {
			return b, fmt.Errorf("parse reset time %q: %w", at, err)
		}
	}
	return b, nil
}

// RecordBoot counts a boot. It returns the updated count together with
// the reset reason left by the previous run, which it then clears so
// the reason is reported once.
func (s *Store) RecordBoot() (Boot, error) {
	b, err := s.Boot()
	if err != nil {
		return b, err
	}
	b.Count++

	if err := s.Set(nsBoot, keyCount, strconv.Itoa(b.Count)); err != nil {
		return b, err
	}
	if err := s.Delete(nsBoot, keyResetReason); err != nil {
		return b, err
	}
	if err := s.Delete(nsBoot, keyResetAt); err != nil {
		return b, err
	}
	return b, nil
}

// RecordReset stores why the device is about to reset.
func (s *Store) RecordReset(reason string) error {
	if err := s.Set(nsBoot, keyResetReason, reason); err != nil {
		return err
	}
	return s.Set(nsBoot, keyResetAt, s.now().UTC().Format(time.RFC3339))
}
