package endpoint

import (
	"net"

	"github.com/cuemby/frontdoor/pkg/ferrors"
)

// accessControl implements the supplemented IP access control gate:
// optional allow/deny CIDR lists checked before a connection is
// admitted, grounded on the teacher's Middleware.CheckAccessControl.
// An empty allow list means "allow everything not explicitly denied".
type accessControl struct {
	allow []*net.IPNet
	deny  []*net.IPNet
}

func newAccessControl(allowCIDRs, denyCIDRs []string) (*accessControl, error) {
	allow, err := parseCIDRs(allowCIDRs)
	if err != nil {
		return nil, err
	}
	deny, err := parseCIDRs(denyCIDRs)
	if err != nil {
		return nil, err
	}
	return &accessControl{allow: allow, deny: deny}, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindConfig, err, "parsing CIDR %q", c)
		}
		out = append(out, ipnet)
	}
	return out, nil
}

// allowed reports whether remoteAddr (a bare IP, no port) may connect.
// Deny takes precedence over allow; an unparseable address is denied.
func (a *accessControl) allowed(remoteAddr string) bool {
	ip := net.ParseIP(remoteAddr)
	if ip == nil {
		return false
	}
	for _, n := range a.deny {
		if n.Contains(ip) {
			return false
		}
	}
	if len(a.allow) == 0 {
		return true
	}
	for _, n := range a.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
