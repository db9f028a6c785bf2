package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/xela07ax/repogov-platform/internal/audit"
)

// reportctl — офлайновая выжимка из audit trail для compliance-проверок:
// сводка по сессиям, security-события и брошенные транзакции.
func main() {
	dir := flag.String("dir", "./audit", "audit trail directory (JSONL files)")
	report := flag.String("report", "summary", "report type: summary | security | incomplete")
	asJSON := flag.Bool("json", false, "emit JSON instead of text")
	flag.Parse()

	reader := audit.NewReader(*dir)

	switch *report {
	case "security":
		events, err := reader.SecurityEvents()
		if err != nil {
			log.Fatalf("read audit trail: %v", err)
		}
		printEvents(events, *asJSON)
	case "incomplete":
		events, err := reader.IncompleteTransactions()
		if err != nil {
			log.Fatalf("read audit trail: %v", err)
		}
		printEvents(events, *asJSON)
	case "summary":
		printSummary(reader, *asJSON)
	default:
		log.Fatalf("unknown report type %q", *report)
	}
}

func printEvents(events []audit.Event, asJSON bool) {
	if asJSON {
		json.NewEncoder(os.Stdout).Encode(events)
		return
	}
	for _, e := range events {
		fmt.Printf("%s  %-10s %-22s %-30s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Status, e.Operation, e.Target, e.TransactionID)
	}
	fmt.Printf("total: %d\n", len(events))
}

type summary struct {
	Events       int            `json:"events"`
	Sessions     int            `json:"sessions"`
	ByComponent  map[string]int `json:"by_component"`
	ByStatus     map[string]int `json:"by_status"`
	Security     int            `json:"security"`
	Incomplete   int            `json:"incomplete"`
	FirstEventAt string         `json:"first_event_at,omitempty"`
	LastEventAt  string         `json:"last_event_at,omitempty"`
}

func printSummary(reader *audit.Reader, asJSON bool) {
	all, err := reader.All()
	if err != nil {
		log.Fatalf("read audit trail: %v", err)
	}
	incomplete, err := reader.IncompleteTransactions()
	if err != nil {
		log.Fatalf("scan incomplete transactions: %v", err)
	}

	s := summary{
		Events:      len(all),
		ByComponent: map[string]int{},
		ByStatus:    map[string]int{},
		Incomplete:  len(incomplete),
	}
	sessions := map[string]struct{}{}
	for _, e := range all {
		sessions[e.SessionID] = struct{}{}
		s.ByComponent[e.Component]++
		s.ByStatus[string(e.Status)]++
		if e.Security {
			s.Security++
		}
	}
	s.Sessions = len(sessions)
	if len(all) > 0 {
		s.FirstEventAt = all[0].Timestamp.Format("2006-01-02 15:04:05")
		s.LastEventAt = all[len(all)-1].Timestamp.Format("2006-01-02 15:04:05")
	}

	if asJSON {
		json.NewEncoder(os.Stdout).Encode(s)
		return
	}

	fmt.Printf("events:     %d (%s — %s)\n", s.Events, s.FirstEventAt, s.LastEventAt)
	fmt.Printf("sessions:   %d\n", s.Sessions)
	fmt.Printf("security:   %d\n", s.Security)
	fmt.Printf("incomplete: %d\n", s.Incomplete)
	fmt.Println("by component:")
	for _, k := range sortedKeys(s.ByComponent) {
		fmt.Printf("  %-12s %d\n", k, s.ByComponent[k])
	}
	fmt.Println("by status:")
	for _, k := range sortedKeys(s.ByStatus) {
		fmt.Printf("  %-12s %d\n", k, s.ByStatus[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
