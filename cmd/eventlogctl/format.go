package main

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/oklog/ulid"
)

var FuncMap = template.FuncMap{
	"humanBytes": func(n uint64) string {
		return humanize.Bytes(n)
	},
	"bytesToString": func(b []byte) string { return string(b) },
	"shorten": func(s string) string {
		if len(s) < 8 {
			return s
		}
		return s[0:8]
	},
	"parseDate": func(i int64) string {
		return time.Unix(0, i).Format(time.Stamp)
	},
	"timeToDuration": func(i int64) string {
		return humanize.Time(time.Unix(0, i))
	},
	"idToDate": func(id string) string {
		parsed, err := ulid.Parse(id)
		if err != nil {
			return "unknown"
		}
		return ulid.Time(parsed.Time()).Format(time.Stamp)
	},
}

func ParseTemplate(body string) (*template.Template, error) {
	return template.New("").Funcs(promptui.FuncMap).Funcs(FuncMap).Parse(fmt.Sprintf("%s\n", body))
}

func getTable(headers []string, out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}
