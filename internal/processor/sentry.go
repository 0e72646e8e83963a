package processor

import (
	"crypto/md5"
	"encoding/hex"
	"net/netip"
	"regexp"

	"github.com/arkilian/colflat/internal/document"
)

var hashRE = regexp.MustCompile(`^[0-9a-f]{32}$`)

// hashify returns h when it already is a 32 character lowercase hex digest,
// and the md5 digest of h otherwise.
func hashify(h string) string {
	if hashRE.MatchString(h) {
		return h
	}
	sum := md5.Sum([]byte(h))
	return hex.EncodeToString(sum[:])
}

// interfaceOf returns a payload interface under its current or legacy
// name, e.g. "user" or "sentry.interfaces.User".
func interfaceOf(data document.Object, name, legacy string) document.Object {
	if v, ok := data.Get(name); ok && v != nil {
		obj, _ := v.(document.Object)
		return obj
	}
	return data.Object(legacy)
}

type userInfo struct {
	ID       interface{}
	Username interface{}
	Email    interface{}
	IP       *netip.Addr
	Geo      document.Object
}

func extractUser(user document.Object) userInfo {
	info := userInfo{
		ID:       document.NullableString(user.Lookup("id")),
		Username: document.NullableString(user.Lookup("username")),
		Email:    document.NullableString(user.Lookup("email")),
		Geo:      user.Object("geo"),
	}
	if raw, ok := user.Lookup("ip_address").(string); ok {
		if addr, err := netip.ParseAddr(raw); err == nil {
			addr = addr.Unmap()
			info.IP = &addr
		}
	}
	return info
}

func (u userInfo) ipString() interface{} {
	if u.IP == nil {
		return nil
	}
	return u.IP.String()
}

// extractHTTP returns the request method and the Referer header. Headers
// may be an object or a list of [name, value] pairs.
func extractHTTP(request document.Object) (method, referer interface{}) {
	headers := document.AsDictSafe(request.Lookup("headers"))
	return document.NullableString(request.Lookup("method")),
		document.NullableString(headers.Lookup("Referer"))
}
