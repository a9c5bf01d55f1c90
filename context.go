package tokenward

import "context"

type clientIPContextKey struct{}
type deviceInfoContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine records it
// on created and revoked refresh tokens and in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithDeviceInfo attaches a free-form device description (typically the HTTP
// User-Agent) to ctx. It is persisted on refresh tokens for session listings.
func WithDeviceInfo(ctx context.Context, deviceInfo string) context.Context {
	return context.WithValue(ctx, deviceInfoContextKey{}, deviceInfo)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func deviceInfoFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	deviceInfo, _ := ctx.Value(deviceInfoContextKey{}).(string)
	return deviceInfo
}
