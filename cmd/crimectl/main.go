// Command crimectl runs ingestion, detection, and fixture generation against
// the crime data store from the command line.
//
// Usage:
//
//	crimectl migrate
//	crimectl ingest data/mock/crime_data_sample.csv
//	crimectl detect 1
//	crimectl genmock -o data/mock/crime_data_synthetic.csv --seed 7
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
