package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"Mail2Ledger/internal/config"
)

var listSep = regexp.MustCompile(`[,\n]+`)

func metaPattern(key, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^\s*` + regexp.QuoteMeta(key) + `\s*:\s*` + value + `\s*$`)
}

var (
	metaClientID   = metaPattern("client_id", `(\d+)`)
	metaHeaderRow  = metaPattern("header_row", `(\d+)`)
	metaBankName   = metaPattern("bank_name", `(.+?)`)
	metaPassword   = metaPattern("password", `(.+?)`)
	metaSheetNames = metaPattern("sheet_names", `(.+?)`)
)

func findString(re *regexp.Regexp, body string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ParseMeta reads "key: value" directives from a message body. Unknown keys and
// malformed values are ignored.
func ParseMeta(body string) config.Overrides {
	var o config.Overrides
	if s := findString(metaClientID, body); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			o.ClientID = &v
		}
	}
	if s := findString(metaHeaderRow, body); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			o.HeaderRow = &v
		}
	}
	o.BankName = findString(metaBankName, body)
	o.Password = findString(metaPassword, body)
	if s := findString(metaSheetNames, body); s != "" {
		for _, name := range listSep.Split(s, -1) {
			if name = strings.TrimSpace(name); name != "" {
				o.SheetNames = append(o.SheetNames, name)
			}
		}
	}
	return o
}
