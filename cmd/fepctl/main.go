package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/paynet/fep/go/sched"
	mbp "go.gazette.dev/core/mainboilerplate"
)

const iniFilename = "fep.ini"

// Config is the top-level configuration object of fepctl.
var Config = new(struct {
	Admin string `long:"admin" env:"ADMIN" default:"http://localhost:8180" description:"Base URL of the gateway admin API"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

// api issues one admin API request and pretty-prints the JSON response.
// Every command funnels through here exactly once.
func api(method, path string, body interface{}) error {
	mbp.InitLog(Config.Log)

	var reqBody io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = &buf
	}

	var req, err = http.NewRequest(method, Config.Admin+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var client = http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err = json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway responded %s: %s", resp.Status, string(raw))
	}

	var out bytes.Buffer
	if err = json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

type channelArgs struct {
	Args struct {
		Channel string `positional-arg-name:"CHANNEL" required:"true" description:"Channel ID"`
	} `positional-args:"true" required:"true"`
}

type cmdStatus struct{}

func (cmdStatus) Execute(_ []string) error { return api("GET", "/v1/status", nil) }

type cmdConnectionsList struct{}

func (cmdConnectionsList) Execute(_ []string) error { return api("GET", "/v1/connections", nil) }

type cmdConnectionsAdd struct{ channelArgs }

func (c cmdConnectionsAdd) Execute(_ []string) error {
	return api("POST", "/v1/connections/"+c.Args.Channel, struct{}{})
}

type cmdConnectionsRemove struct{ channelArgs }

func (c cmdConnectionsRemove) Execute(_ []string) error {
	return api("DELETE", "/v1/connections/"+c.Args.Channel, nil)
}

type cmdConnectionsReconnect struct{ channelArgs }

func (c cmdConnectionsReconnect) Execute(_ []string) error {
	return api("POST", "/v1/connections/"+c.Args.Channel+"/reconnect", struct{}{})
}

type cmdTxnGet struct {
	Args struct {
		ID string `positional-arg-name:"ID" required:"true" description:"Transaction ID"`
	} `positional-args:"true" required:"true"`
}

func (c cmdTxnGet) Execute(_ []string) error {
	return api("GET", "/v1/transactions/"+c.Args.ID, nil)
}

type cmdTxnList struct {
	RRN    string `long:"rrn" description:"Filter by retrieval reference number"`
	Status string `long:"status" description:"Filter by status (PENDING, APPROVED, DECLINED, REVERSED, TIMED_OUT)"`
	Limit  int    `long:"limit" default:"20" description:"Maximum records to return"`
}

func (c cmdTxnList) Execute(_ []string) error {
	if c.RRN != "" {
		return api("GET", "/v1/transactions?rrn="+c.RRN, nil)
	}
	return api("GET", fmt.Sprintf("/v1/transactions?status=%s&limit=%d", c.Status, c.Limit), nil)
}

type cmdSchedCreate struct {
	Customer  string `long:"customer" required:"true" description:"Owning customer ID"`
	Source    string `long:"source" required:"true" description:"Source account"`
	Dest      string `long:"dest" required:"true" description:"Destination account"`
	Amount    int64  `long:"amount" required:"true" description:"Amount in minor currency units"`
	Frequency string `long:"frequency" default:"ONE_TIME" description:"ONE_TIME, DAILY, WEEKLY, or MONTHLY"`
	Start     string `long:"start" required:"true" description:"First run date (YYYY-MM-DD)"`
	End       string `long:"end" description:"Optional last run date (YYYY-MM-DD)"`
}

func (c cmdSchedCreate) Execute(_ []string) error {
	var start, err = time.Parse("2006-01-02", c.Start)
	if err != nil {
		return fmt.Errorf("parsing --start: %w", err)
	}
	var req = sched.CreateRequest{
		CustomerID:    c.Customer,
		SourceAccount: c.Source,
		DestAccount:   c.Dest,
		Amount:        c.Amount,
		Frequency:     sched.Frequency(c.Frequency),
		StartDate:     start,
	}
	if c.End != "" {
		if req.EndDate, err = time.Parse("2006-01-02", c.End); err != nil {
			return fmt.Errorf("parsing --end: %w", err)
		}
	}
	return api("POST", "/v1/schedules", req)
}

type cmdSchedList struct {
	Customer string `long:"customer" required:"true" description:"Owning customer ID"`
}

func (c cmdSchedList) Execute(_ []string) error {
	return api("GET", "/v1/schedules?customer="+c.Customer, nil)
}

type schedActionArgs struct {
	Customer string `long:"customer" required:"true" description:"Owning customer ID"`
	Args     struct {
		ID string `positional-arg-name:"ID" required:"true" description:"Schedule ID"`
	} `positional-args:"true" required:"true"`
}

func (c schedActionArgs) act(action string) error {
	return api("POST", "/v1/schedules/"+c.Args.ID+"/"+action,
		map[string]string{"customerId": c.Customer})
}

type cmdSchedSuspend struct{ schedActionArgs }

func (c cmdSchedSuspend) Execute(_ []string) error { return c.act("suspend") }

type cmdSchedResume struct{ schedActionArgs }

func (c cmdSchedResume) Execute(_ []string) error { return c.act("resume") }

type cmdSchedCancel struct{ schedActionArgs }

func (c cmdSchedCancel) Execute(_ []string) error { return c.act("cancel") }

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("status", "Show gateway status", `
Show the gateway's connection states, deadline tracking, and channel inventory.
`, &cmdStatus{})
	_, _ = parser.AddCommand("connections", "List managed connections", `
List the gateway's managed clients and servers with their states.
`, &cmdConnectionsList{})
	_, _ = parser.AddCommand("add", "Add a connection", `
Construct and start the connection of a configured channel.
`, &cmdConnectionsAdd{})
	_, _ = parser.AddCommand("remove", "Remove a connection", `
Stop and remove the connection of a channel.
`, &cmdConnectionsRemove{})
	_, _ = parser.AddCommand("reconnect", "Reconnect a client channel", `
Close and re-establish the client connection of a channel. Server-mode
channels cannot be reconnected; remove and re-add them instead.
`, &cmdConnectionsReconnect{})
	_, _ = parser.AddCommand("txn", "Look up one transaction", `
Fetch a transaction record by ID.
`, &cmdTxnGet{})
	_, _ = parser.AddCommand("txns", "List transactions", `
List transaction records by RRN or by status.
`, &cmdTxnList{})
	_, _ = parser.AddCommand("sched-create", "Create a scheduled transfer", `
Create a standing transfer instruction executed by the daily sweep.
`, &cmdSchedCreate{})
	_, _ = parser.AddCommand("sched-list", "List scheduled transfers", `
List a customer's scheduled transfers.
`, &cmdSchedList{})
	_, _ = parser.AddCommand("sched-suspend", "Suspend a scheduled transfer", `
Pause an active scheduled transfer.
`, &cmdSchedSuspend{})
	_, _ = parser.AddCommand("sched-resume", "Resume a scheduled transfer", `
Reactivate a suspended scheduled transfer.
`, &cmdSchedResume{})
	_, _ = parser.AddCommand("sched-cancel", "Cancel a scheduled transfer", `
Terminally cancel a scheduled transfer.
`, &cmdSchedCancel{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
