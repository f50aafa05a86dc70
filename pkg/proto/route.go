package proto

import (
	"errors"
	"strconv"
	"strings"
)

// MaxRouteLen is the maximum number of hops in a routing path.
const MaxRouteLen = 8

// ErrRouteOutOfScope is returned when a route does not start with the
// requested scope prefix.
var ErrRouteOutOfScope = errors.New("route outside of scope")

// ErrRouteTooLong is returned when a route exceeds MaxRouteLen hops.
var ErrRouteTooLong = errors.New("route too long")

// Route identifies a node in the sensor tree as an ordered sequence of
// sub-device indices. The empty route is the root device.
type Route []uint8

// RootRoute returns the route of the root device.
func RootRoute() Route {
	return Route{}
}

// ParseRoute parses a route from its textual form, e.g. "/", "/1/3".
func ParseRoute(s string) (Route, error) {
	if s == "" || s == "/" {
		return RootRoute(), nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, errors.New("route must start with '/'")
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) > MaxRouteLen {
		return nil, ErrRouteTooLong
	}
	route := make(Route, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return nil, errors.New("invalid route segment: " + p)
		}
		route = append(route, uint8(n))
	}
	return route, nil
}

// IsRoot reports whether the route addresses the root device.
func (r Route) IsRoot() bool {
	return len(r) == 0
}

// Len returns the number of hops in the route.
func (r Route) Len() int {
	return len(r)
}

// Equal reports whether two routes address the same node.
func (r Route) Equal(other Route) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the route.
func (r Route) Clone() Route {
	if len(r) == 0 {
		return RootRoute()
	}
	c := make(Route, len(r))
	copy(c, r)
	return c
}

// Relative interprets the receiver as a scope prefix and returns the suffix
// of abs below it. Returns ErrRouteOutOfScope if abs is not within the scope.
func (r Route) Relative(abs Route) (Route, error) {
	if len(abs) < len(r) {
		return nil, ErrRouteOutOfScope
	}
	for i := range r {
		if abs[i] != r[i] {
			return nil, ErrRouteOutOfScope
		}
	}
	return abs[len(r):].Clone(), nil
}

// Absolute interprets the receiver as a scope prefix and returns rel
// prepended with it.
func (r Route) Absolute(rel Route) Route {
	abs := make(Route, 0, len(r)+len(rel))
	abs = append(abs, r...)
	abs = append(abs, rel...)
	return abs
}

// String returns the textual form of the route.
func (r Route) String() string {
	if len(r) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, hop := range r {
		sb.WriteByte('/')
		sb.WriteString(strconv.FormatUint(uint64(hop), 10))
	}
	return sb.String()
}
