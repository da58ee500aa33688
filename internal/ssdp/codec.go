// Package ssdp builds and parses the SSDP message frames used for device
// discovery: M-SEARCH requests, NOTIFY alive/byebye, and 200-OK replies
// (spec.md §4.2, §6). Wire format follows UPnP Device Architecture 1.1:
// CRLF-terminated headers, a blank line ending the block, no body.
package ssdp

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	MulticastAddr = "239.255.255.250"
	MulticastPort = 1900
)

// BuildMSearch formats an M-SEARCH request for searchTarget, waiting up to
// mx seconds for replies.
func BuildMSearch(searchTarget string, mx int) []byte {
	return buildHeader("M-SEARCH", map[string]string{
		"HOST": fmt.Sprintf("%s:%d", MulticastAddr, MulticastPort),
		"MAN":  `"ssdp:discover"`,
		"MX":   strconv.Itoa(mx),
		"ST":   searchTarget,
	}, false)
}

// BuildNotifyAlive formats a NOTIFY ssdp:alive frame announcing nt/usn at
// location, valid for maxAgeSec seconds.
func BuildNotifyAlive(nt, usn, location, server string, maxAgeSec int) []byte {
	return buildHeader("NOTIFY", map[string]string{
		"HOST":          fmt.Sprintf("%s:%d", MulticastAddr, MulticastPort),
		"CACHE-CONTROL": fmt.Sprintf("max-age=%d", maxAgeSec),
		"LOCATION":      location,
		"NT":            nt,
		"NTS":           "ssdp:alive",
		"USN":           usn,
		"SERVER":        server,
	}, false)
}

// BuildNotifyByebye formats a NOTIFY ssdp:byebye frame.
func BuildNotifyByebye(nt, usn string) []byte {
	return buildHeader("NOTIFY", map[string]string{
		"HOST":     fmt.Sprintf("%s:%d", MulticastAddr, MulticastPort),
		"NT":       nt,
		"NTS":      "ssdp:byebye",
		"USN":      usn,
		"LOCATION": "*",
	}, false)
}

// BuildMSearchReply formats a 200 OK reply to an M-SEARCH.
func BuildMSearchReply(st, usn, location, server string, maxAgeSec int) []byte {
	return buildHeader("200 OK", map[string]string{
		"CACHE-CONTROL": fmt.Sprintf("max-age=%d", maxAgeSec),
		"EXT":           "",
		"LOCATION":      location,
		"SERVER":        server,
		"ST":            st,
		"USN":           usn,
		"CONTENT-LENGTH": "0",
	}, true)
}

func buildHeader(head string, vars map[string]string, isResponse bool) []byte {
	var buf bytes.Buffer
	if isResponse {
		buf.WriteString("HTTP/1.1 " + head + "\r\n")
	} else {
		buf.WriteString(head + " * HTTP/1.1\r\n")
	}
	// deterministic order keeps wire output stable for tests
	for _, k := range headerOrder(vars) {
		buf.WriteString(k + ": " + vars[k] + "\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// headerOrder gives NOTIFY/M-SEARCH/200-OK headers a fixed, spec-friendly
// order rather than Go's randomized map iteration.
func headerOrder(vars map[string]string) []string {
	preferred := []string{
		"HOST", "MAN", "MX", "ST", "NT", "NTS", "USN", "LOCATION",
		"CACHE-CONTROL", "SERVER", "EXT", "CONTENT-LENGTH", "SID", "SEQ",
		"TIMEOUT", "CALLBACK",
	}
	order := make([]string, 0, len(vars))
	seen := make(map[string]bool, len(vars))
	for _, k := range preferred {
		if _, ok := vars[k]; ok {
			order = append(order, k)
			seen[k] = true
		}
	}
	for k := range vars {
		if !seen[k] {
			order = append(order, k)
		}
	}
	return order
}

// MessageKind distinguishes what a parsed SSDP frame represents.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindMSearchRequest
	KindNotify
	KindMSearchReply
)

// Message is the parsed form of any SSDP frame (spec.md §4.2).
type Message struct {
	Kind MessageKind

	// Common fields.
	Location string
	USN      string
	ST       string
	NT       string
	NTS      string
	MX       int
	Host     string
	SID      string
	SEQ      int
	Server   string
	MaxAge   int

	// PropertySet carries the full <e:propertyset>...</e:propertyset>
	// payload for event NOTIFY bodies (distinct from discovery NOTIFY).
	PropertySet string
}

// Parse reads one SSDP frame (an HTTP/1.1-over-UDP request or 200 OK
// response) from raw. Header lookups are case-insensitive, matching
// net/http's own header canonicalization.
func Parse(raw []byte) (*Message, error) {
	text := string(raw)
	if strings.HasPrefix(text, "HTTP/1.1") || strings.HasPrefix(text, "HTTP/1.0") {
		return parseReply(text)
	}
	return parseRequest(text)
}

func parseRequest(text string) (*Message, error) {
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(text)))
	if err != nil {
		return nil, fmt.Errorf("parse ssdp request: %w", err)
	}
	defer req.Body.Close()

	msg := &Message{
		Host: req.Header.Get("HOST"),
		USN:  req.Header.Get("USN"),
		SID:  req.Header.Get("SID"),
	}
	if seq := req.Header.Get("SEQ"); seq != "" {
		if n, err := strconv.Atoi(seq); err == nil {
			msg.SEQ = n
		}
	}

	switch req.Method {
	case "NOTIFY":
		msg.Kind = KindNotify
		msg.NT = req.Header.Get("NT")
		msg.NTS = req.Header.Get("NTS")
		msg.Location = req.Header.Get("LOCATION")
		msg.Server = req.Header.Get("SERVER")
		msg.MaxAge = parseMaxAge(req.Header.Get("CACHE-CONTROL"))
		if body := bodyText(req.Body); body != "" {
			msg.PropertySet = body
		}
	case "M-SEARCH":
		msg.Kind = KindMSearchRequest
		msg.ST = req.Header.Get("ST")
		if mx := req.Header.Get("MX"); mx != "" {
			if n, err := strconv.Atoi(mx); err == nil {
				msg.MX = n
			}
		}
	default:
		return nil, fmt.Errorf("unrecognized ssdp method %q", req.Method)
	}
	return msg, nil
}

func parseReply(text string) (*Message, error) {
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(text)), nil)
	if err != nil {
		return nil, fmt.Errorf("parse ssdp reply: %w", err)
	}
	defer resp.Body.Close()

	msg := &Message{
		Kind:     KindMSearchReply,
		USN:      resp.Header.Get("USN"),
		ST:       resp.Header.Get("ST"),
		Location: resp.Header.Get("LOCATION"),
		Server:   resp.Header.Get("SERVER"),
		MaxAge:   parseMaxAge(resp.Header.Get("CACHE-CONTROL")),
	}
	return msg, nil
}

func bodyText(r interface{ Read([]byte) (int, error) }) string {
	var buf bytes.Buffer
	tmp := make([]byte, 512)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
	}
	return buf.String()
}

func parseMaxAge(cacheControl string) int {
	if cacheControl == "" {
		return -1
	}
	idx := strings.Index(cacheControl, "max-age=")
	if idx == -1 {
		return -1
	}
	rest := cacheControl[idx+len("max-age="):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return -1
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return -1
	}
	return n
}

// USNParts decomposes a USN of the form "UDN" or "UDN::<type>" (spec.md
// §4.2). AnnouncedType is empty when there is no "::" separator.
type USNParts struct {
	UDN           string
	AnnouncedType string
}

func SplitUSN(usn string) USNParts {
	idx := strings.Index(usn, "::")
	if idx == -1 {
		return USNParts{UDN: usn}
	}
	return USNParts{UDN: usn[:idx], AnnouncedType: usn[idx+2:]}
}

// JoinUSN builds a USN: udn alone when announced equals udn or is empty,
// otherwise "udn::announced".
func JoinUSN(udn, announced string) string {
	if announced == "" || announced == udn {
		return udn
	}
	return udn + "::" + announced
}
