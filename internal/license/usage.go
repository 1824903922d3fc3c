// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

// UsagePercentage turns a current/max pair into a display percentage,
// clamped to 100. The stored record is never clamped; only this view is.
// A max of zero (or less) is treated as already saturated.
func UsagePercentage(current, max int) float64 {
	if max <= 0 {
		return 100
	}

	pct := float64(current) / float64(max) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// CanAdmit reports whether one more resource of this kind fits under the
// quota. This is a display/UX check only; the issuing authority is the
// enforcement point of record.
func CanAdmit(current, max int) bool {
	if max <= 0 {
		return false
	}
	return current < max
}
