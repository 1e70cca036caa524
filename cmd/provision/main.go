package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

// deployment records one provisioned engine instance per environment so
// operators can look up who the admin and treasury accounts are.
type deployment struct {
	Network       string    `json:"network"`
	Name          string    `json:"name"`
	Symbol        string    `json:"symbol"`
	Admin         string    `json:"admin"`
	Treasury      string    `json:"treasury"`
	FeeBPS        int64     `json:"feeBps"`
	ProvisionedAt time.Time `json:"provisionedAt"`
}

func main() {
	network := flag.String("network", "local", "Target environment name")
	name := flag.String("name", "Unit Lease", "Display name of the deployment")
	symbol := flag.String("symbol", "UNIT", "Short symbol of the unit batch family")
	admin := flag.String("admin", "", "Admin account id (required)")
	treasury := flag.String("treasury", "", "Treasury account id (required)")
	feeBPS := flag.Int64("fee-bps", 250, "Platform fee in basis points")
	out := flag.String("out", "deployments.json", "Deployment record file")
	flag.Parse()

	if *admin == "" || *treasury == "" {
		flag.Usage()
		log.Fatal("both -admin and -treasury are required")
	}
	if *feeBPS < 0 || *feeBPS >= 10000 {
		log.Fatalf("fee %d out of range [0,10000)", *feeBPS)
	}

	records := map[string]deployment{}
	if data, err := os.ReadFile(*out); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			log.Fatalf("Corrupt deployment record %s: %v", *out, err)
		}
	}

	records[*network] = deployment{
		Network:       *network,
		Name:          *name,
		Symbol:        *symbol,
		Admin:         *admin,
		Treasury:      *treasury,
		FeeBPS:        *feeBPS,
		ProvisionedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode deployment record: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}

	fmt.Printf("Recorded %s deployment (admin=%s treasury=%s fee=%dbps) in %s\n",
		*network, *admin, *treasury, *feeBPS, *out)
}
