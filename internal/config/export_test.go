package config

import "log/slog"

// WithLogger is an option to set the logger for the Manager.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.Logger = l
	}
}

// AllowSet returns the internal set of allowed extensions.
func (cm *Manager) AllowSet() map[string]struct{} {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.allowSet
}
