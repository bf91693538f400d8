package datatype

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type typeDef struct {
	fn      func(value string, args []arg) bool
	desc    func(args []arg) string
	minArgs int
	nested  bool // arguments are sub-expressions
	numeric bool // arguments must be numbers
}

func fixed(s string) func([]arg) string {
	return func([]arg) string { return s }
}

var (
	integerRe    = regexp.MustCompile(`^-?[0-9]+$`)
	uintegerRe   = regexp.MustCompile(`^[0-9]+$`)
	hexstringRe  = regexp.MustCompile(`^([0-9a-fA-F]{2})+$`)
	hostLabelRe  = regexp.MustCompile(`^[A-Za-z0-9_]([A-Za-z0-9_-]{0,61}[A-Za-z0-9_])?$`)
	uciNameRe    = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	phoneDigitRe = regexp.MustCompile(`^[0-9*#!.]+$`)
	timeRe       = regexp.MustCompile(`^[0-9]{2}:[0-9]{2}:[0-9]{2}$`)
	dateRe       = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
)

// types is the registry of known datatypes. Combinators are evaluated by
// eval directly and only need their arity here.
var types map[string]typeDef

func init() {
	types = map[string]typeDef{
		"or":   {minArgs: 1, nested: true},
		"and":  {minArgs: 1, nested: true},
		"neg":  {minArgs: 1, nested: true},
		"list": {minArgs: 1, nested: true},

		"integer":  {fn: isInteger, desc: fixed("an integer")},
		"uinteger": {fn: isUinteger, desc: fixed("a positive integer")},
		"float":    {fn: isFloat, desc: fixed("a decimal number")},
		"ufloat":   {fn: isUfloat, desc: fixed("a positive decimal number")},
		"bool":     {fn: isBool, desc: fixed("a boolean value")},
		"string":   {fn: func(string, []arg) bool { return true }, desc: fixed("a string")},
		"hexstring": {fn: func(v string, _ []arg) bool { return hexstringRe.MatchString(v) },
			desc: fixed("a hexadecimal encoded string")},

		"hostname": {fn: isHostname, desc: fixed("a valid hostname")},
		"host":     {fn: isHost, desc: fixed("a valid hostname or IP address")},
		"network":  {fn: isNetwork, desc: fixed("a valid UCI identifier, hostname or IP address")},

		"ipaddr":    {fn: isIPAddr, desc: fixed("a valid IP address")},
		"ip4addr":   {fn: isIP4Addr, desc: fixed("a valid IPv4 address")},
		"ip6addr":   {fn: isIP6Addr, desc: fixed("a valid IPv6 address")},
		"ip4prefix": {fn: prefixRange(32), desc: fixed("a valid IPv4 prefix value (0-32)")},
		"ip6prefix": {fn: prefixRange(128), desc: fixed("a valid IPv6 prefix value (0-128)")},
		"cidr":      {fn: isCIDR(0), desc: fixed("a valid IPv4 or IPv6 CIDR")},
		"cidr4":     {fn: isCIDR(4), desc: fixed("a valid IPv4 CIDR")},
		"cidr6":     {fn: isCIDR(6), desc: fixed("a valid IPv6 CIDR")},
		"ipmask":    {fn: isIPMask, desc: fixed("a valid network in address/netmask notation")},
		"ipnet":     {fn: isIPNet, desc: fixed("a valid network address with prefix")},
		"netmask4":  {fn: isNetmask4, desc: fixed("a valid IPv4 netmask")},
		"macaddr":   {fn: isMAC, desc: fixed("a valid MAC address")},

		"port":       {fn: isPort, desc: fixed("a valid port value")},
		"portrange":  {fn: isPortRange, desc: fixed("a valid port or port range (port1-port2)")},
		"hostport":   {fn: isHostPort, desc: fixed("a valid host:port")},
		"ipaddrport": {fn: isIPAddrPort, desc: fixed("a valid IP address and port")},

		"range": {fn: inRange, minArgs: 2, numeric: true, desc: func(a []arg) string {
			return fmt.Sprintf("a value between %s and %s", a[0].lit, a[1].lit)
		}},
		"min": {fn: atLeast, minArgs: 1, numeric: true, desc: func(a []arg) string {
			return fmt.Sprintf("a value greater or equal to %s", a[0].lit)
		}},
		"max": {fn: atMost, minArgs: 1, numeric: true, desc: func(a []arg) string {
			return fmt.Sprintf("a value smaller or equal to %s", a[0].lit)
		}},
		"rangelength": {fn: lengthRange, minArgs: 2, numeric: true, desc: func(a []arg) string {
			return fmt.Sprintf("a value between %s and %s characters", a[0].lit, a[1].lit)
		}},
		"minlength": {fn: lengthAtLeast, minArgs: 1, numeric: true, desc: func(a []arg) string {
			return fmt.Sprintf("a value with at least %s characters", a[0].lit)
		}},
		"maxlength": {fn: lengthAtMost, minArgs: 1, numeric: true, desc: func(a []arg) string {
			return fmt.Sprintf("a value with at most %s characters", a[0].lit)
		}},

		"phonedigit": {fn: func(v string, _ []arg) bool { return phoneDigitRe.MatchString(v) },
			desc: fixed("a valid phone number (digits 0-9, \"*\", \"#\", \"!\" or \".\")")},
		"timehhmmss":   {fn: isTime, desc: fixed("a valid time (HH:MM:SS)")},
		"dateyyyymmdd": {fn: isDate, desc: fixed("a valid date (YYYY-MM-DD)")},
		"uciname":      {fn: func(v string, _ []arg) bool { return uciNameRe.MatchString(v) }, desc: fixed("a valid UCI identifier")},
		"wpakey":       {fn: isWPAKey, desc: fixed("a valid WPA key")},
		"wepkey":       {fn: isWEPKey, desc: fixed("a valid WEP key")},
		"device":       {fn: func(v string, _ []arg) bool { return ValidateInterfaceName(v) == nil }, desc: fixed("a valid network device name")},
		"directory":    {fn: isDir, desc: fixed("an existing directory")},
		"file":         {fn: isFile, desc: fixed("an existing file")},
	}
}

// Known reports whether name is a registered datatype.
func Known(name string) bool {
	_, ok := types[name]
	return ok
}

func parseNum(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isInteger(v string, _ []arg) bool  { return integerRe.MatchString(v) }
func isUinteger(v string, _ []arg) bool { return uintegerRe.MatchString(v) }

func isFloat(v string, _ []arg) bool {
	_, ok := parseNum(v)
	return ok
}

func isUfloat(v string, _ []arg) bool {
	f, ok := parseNum(v)
	return ok && f >= 0
}

func isBool(v string, _ []arg) bool {
	switch strings.ToLower(v) {
	case "0", "1", "yes", "no", "on", "off", "true", "false", "enabled", "disabled":
		return true
	}
	return false
}

func isHostname(v string, _ []arg) bool {
	v = strings.TrimSuffix(v, ".")
	if v == "" || len(v) > 253 {
		return false
	}
	// A name made only of digits and dots would be read as an address.
	if strings.Trim(v, "0123456789.") == "" {
		return false
	}
	for _, label := range strings.Split(v, ".") {
		if !hostLabelRe.MatchString(label) {
			return false
		}
	}
	return true
}

func isHost(v string, a []arg) bool {
	return isHostname(v, a) || isIPAddr(v, nil)
}

func isNetwork(v string, a []arg) bool {
	return uciNameRe.MatchString(v) || isHost(v, a)
}

func noMask(args []arg) bool {
	return len(args) > 0 && (args[0].lit == "nomask" || args[0].lit == "true" || (args[0].isNum && args[0].num != 0))
}

// splitMask splits addr/mask; the mask part is empty when absent.
func splitMask(v string) (string, string, bool) {
	addr, mask, found := strings.Cut(v, "/")
	return addr, mask, found
}

func isIP4Addr(v string, args []arg) bool {
	addr, mask, hasMask := splitMask(v)
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return false
	}
	if !hasMask {
		return true
	}
	if noMask(args) {
		return false
	}
	return prefixRange(32)(mask, nil) || isNetmask4(mask, nil)
}

func isIP6Addr(v string, args []arg) bool {
	addr, mask, hasMask := splitMask(v)
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is6() || ip.Is4In6() {
		return false
	}
	if !hasMask {
		return true
	}
	if noMask(args) {
		return false
	}
	return prefixRange(128)(mask, nil)
}

func isIPAddr(v string, args []arg) bool {
	return isIP4Addr(v, args) || isIP6Addr(v, args)
}

func prefixRange(limit int) func(string, []arg) bool {
	return func(v string, _ []arg) bool {
		if !uintegerRe.MatchString(v) {
			return false
		}
		n, err := strconv.Atoi(v)
		return err == nil && n <= limit
	}
}

func isCIDR(family int) func(string, []arg) bool {
	return func(v string, _ []arg) bool {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return false
		}
		switch family {
		case 4:
			return p.Addr().Is4()
		case 6:
			return p.Addr().Is6()
		}
		return true
	}
}

func isIPMask(v string, _ []arg) bool {
	addr, mask, ok := splitMask(v)
	if !ok {
		return false
	}
	if ip, err := netip.ParseAddr(addr); err == nil && ip.Is4() && isNetmask4(mask, nil) {
		return true
	}
	return isCIDR(0)(v, nil)
}

func isIPNet(v string, _ []arg) bool {
	p, err := netip.ParsePrefix(v)
	return err == nil && p.Masked().Addr() == p.Addr()
}

func isNetmask4(v string, _ []arg) bool {
	ip, err := netip.ParseAddr(v)
	if err != nil || !ip.Is4() {
		return false
	}
	b := ip.As4()
	m := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	// contiguous ones followed by zeros: inverted plus one is a power of two
	inv := ^m
	return inv&(inv+1) == 0
}

func isMAC(v string, _ []arg) bool {
	hw, err := net.ParseMAC(v)
	return err == nil && len(hw) == 6
}

func portNum(v string) (int, bool) {
	if !uintegerRe.MatchString(v) {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n <= 65535
}

func isPort(v string, _ []arg) bool {
	_, ok := portNum(v)
	return ok
}

func isPortRange(v string, _ []arg) bool {
	lo, hi, found := strings.Cut(v, "-")
	if !found {
		return isPort(v, nil)
	}
	a, ok1 := portNum(lo)
	b, ok2 := portNum(hi)
	return ok1 && ok2 && a <= b
}

func isHostPort(v string, _ []arg) bool {
	host, port, err := net.SplitHostPort(v)
	return err == nil && isPort(port, nil) && isHost(host, nil)
}

func isIPAddrPort(v string, _ []arg) bool {
	_, err := netip.ParseAddrPort(v)
	return err == nil
}

func inRange(v string, a []arg) bool {
	f, ok := parseNum(v)
	return ok && f >= a[0].num && f <= a[1].num
}

func atLeast(v string, a []arg) bool {
	f, ok := parseNum(v)
	return ok && f >= a[0].num
}

func atMost(v string, a []arg) bool {
	f, ok := parseNum(v)
	return ok && f <= a[0].num
}

func lengthRange(v string, a []arg) bool {
	n := float64(utf8.RuneCountInString(v))
	return n >= a[0].num && n <= a[1].num
}

func lengthAtLeast(v string, a []arg) bool {
	return float64(utf8.RuneCountInString(v)) >= a[0].num
}

func lengthAtMost(v string, a []arg) bool {
	return float64(utf8.RuneCountInString(v)) <= a[0].num
}

func isTime(v string, _ []arg) bool {
	if !timeRe.MatchString(v) {
		return false
	}
	_, err := time.Parse("15:04:05", v)
	return err == nil
}

func isDate(v string, _ []arg) bool {
	if !dateRe.MatchString(v) {
		return false
	}
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

func isWPAKey(v string, _ []arg) bool {
	if len(v) == 64 {
		return hexstringRe.MatchString(v)
	}
	if len(v) < 8 || len(v) > 63 {
		return false
	}
	for _, r := range v {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

func isWEPKey(v string, _ []arg) bool {
	v = strings.TrimPrefix(v, "s:")
	switch len(v) {
	case 5, 13:
		return true
	case 10, 26:
		return hexstringRe.MatchString(v)
	}
	return false
}

func isDir(v string, _ []arg) bool {
	fi, err := os.Stat(v)
	return err == nil && fi.IsDir()
}

func isFile(v string, _ []arg) bool {
	fi, err := os.Stat(v)
	return err == nil && fi.Mode().IsRegular()
}
