package security

import "time"

// ClockSkewGrace is the slack applied to expiry checks. Stores and the
// engine may run on hosts whose clocks drift a few seconds apart; without
// the grace a token can be rejected as expired the moment it is minted
// elsewhere. Five seconds covers ordinary NTP drift while extending the
// effective lifetime by a negligible amount.
const ClockSkewGrace = 5 * time.Second

// IsTokenExpired reports whether the expiry lies more than the skew grace
// in the past. A zero time means no expiration.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredAt(expiresAt, time.Now())
}

// IsTokenExpiredAt is IsTokenExpired against an explicit clock.
func IsTokenExpiredAt(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(ClockSkewGrace))
}
