package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakCodeScoreThreshold = 2

// IsWeakAccessCode returns whether a permanent access code is considered weak.
// Temporary codes expire on their own and are exempt; the caller decides
// whether a weak permanent code is rejected or merely logged.
func IsWeakAccessCode(code string) bool {
	if code == "" {
		return true
	}
	result := zxcvbn.PasswordStrength(code, nil)
	return result.Score < weakCodeScoreThreshold
}
