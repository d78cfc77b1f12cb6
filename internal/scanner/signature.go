package scanner

import (
	"bytes"
	"regexp"
	"strings"
)

// Content is a file loaded for inspection.
type Content struct {
	Path string
	Data []byte
	// Lines holds Data split on '\n', without terminators.
	Lines [][]byte
}

func newContent(path string, data []byte) *Content {
	lines := bytes.Split(data, []byte{'\n'})
	if n := len(lines); n > 1 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	return &Content{Path: path, Data: data, Lines: lines}
}

// IsPHP reports whether the file has a .php extension.
func (c *Content) IsPHP() bool { return strings.HasSuffix(c.Path, ".php") }

// HasLineAtLeast reports whether any line is n bytes or longer.
func (c *Content) HasLineAtLeast(n int) bool {
	for _, l := range c.Lines {
		if len(l) >= n {
			return true
		}
	}
	return false
}

func (c *Content) containsAny(needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(c.Data, []byte(n)) {
			return true
		}
	}
	return false
}

// Signature is one heuristic. Score may be negative.
type Signature struct {
	Name        string
	Description string
	Score       int
	Match       func(c *Content) bool
}

// taintedLine matches exploit keywords, plain or hex-escaped, inside an
// otherwise legitimate script.
var taintedLine = regexp.MustCompile(`eval\(base64_decode|\\x65\\x76\\x61\\x6[cC]\\x28|\\x62\\x61\\x73\\x65\\x36\\x34\\x5[fF]\\x64\\x65\\x63\\x6[fF]\\x64\\x65`)

// hexBase64Decode matches "base64_decode" written as \xNN escapes.
var hexBase64Decode = regexp.MustCompile(`\\x62\\x61\\x73\\x65\\x36\\x34\\x5[fF]\\x64\\x65\\x63\\x6[fF]\\x64\\x65`)

// DefaultSignatures is the built-in rule set.
var DefaultSignatures = []Signature{
	{
		Name:        "b64-with-long-line",
		Description: "contains base64_decode and a line of 700+ characters",
		Score:       5,
		Match: func(c *Content) bool {
			return c.containsAny("base64_decode") && c.HasLineAtLeast(700)
		},
	},
	{
		Name:        "b64hex-with-long-line",
		Description: "contains hex-escaped base64_decode and a line of 700+ characters",
		Score:       5,
		Match: func(c *Content) bool {
			return hexBase64Decode.Match(c.Data) && c.HasLineAtLeast(700)
		},
	},
	{
		Name:        "gif-with-php",
		Description: "has both GIF and PHP headers",
		Score:       10,
		Match: func(c *Content) bool {
			return c.containsAny("GIF89a") && c.containsAny("<?php")
		},
	},
	{
		Name:        "rodecap-bot",
		Description: "Rodecap spam-bot marker",
		Score:       10,
		Match: func(c *Content) bool {
			return c.containsAny("die(PHP_OS.chr(49).chr(48).chr(43).md5(0987654321));")
		},
	},
	{
		Name:        "c99-injector",
		Description: "c99-family PHP shell",
		Score:       20,
		Match: func(c *Content) bool {
			return c.containsAny("/* c99 injector", "$c99sh_updateurl", "$c99sh_sourcesurl")
		},
	},
	{
		Name:        "backdoor-vars",
		Description: "variables used by perl backdoors in PHP shells",
		Score:       5,
		Match: func(c *Content) bool {
			return c.containsAny("$back_connect", "$datapipe_", "port_bind_bd_pl")
		},
	},
	{
		Name:        "long-line-php",
		Description: "php file of at most 7 lines with a line of 700+ characters",
		Score:       10,
		Match: func(c *Content) bool {
			return c.IsPHP() && len(c.Lines) <= 7 && c.HasLineAtLeast(700)
		},
	},
	{
		Name:        "tainted-file",
		Description: "php file over 12 lines with exploit keywords on a line of 1000+ characters",
		Score:       -15,
		Match: func(c *Content) bool {
			if !c.IsPHP() || len(c.Lines) <= 12 {
				return false
			}
			for _, l := range c.Lines {
				if len(l) >= 1000 && taintedLine.Match(l) {
					return true
				}
			}
			return false
		},
	},
	{
		Name:        "nested-elf",
		Description: "escaped ELF header inside a php script (Linux/Mayhem)",
		Score:       15,
		Match: func(c *Content) bool {
			return c.IsPHP() && c.containsAny(`\x7f\x45\x4c\x46\x02\x01\x01\x00\x00\x00\x00`)
		},
	},
	{
		Name:        "php-injection",
		Description: "injected eval(base64_decode($_POST",
		Score:       5,
		Match: func(c *Content) bool {
			return c.IsPHP() && c.containsAny("eval(base64_decode($_POST")
		},
	},
	{
		Name:        "i59-spambot",
		Description: "i59 spam-bot marker",
		Score:       15,
		Match: func(c *Content) bool {
			return c.IsPHP() && c.containsAny("<?$i59=\"Euc<v#`5R1s?")
		},
	},
}
