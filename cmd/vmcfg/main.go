// Command vmcfg loads and validates a boot configuration file and prints
// the resolved settings to stdout, or the validation error to stderr. It exists so
// the boot-configuration loader (config.Parse) can be exercised without
// wiring up the rest of the VM core.
package main

import (
	"fmt"
	"log"
	"os"

	"vmkern/config"
)

func usage(me string) {
	fmt.Printf("%s <boot.yaml>\n\nLoad and validate a VM core boot configuration.\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage(os.Args[0])
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	boot, err := config.Parse(data)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("num_phys_pages=%d page_size=%d acia_mode=%v\n",
		boot.NumPhysPages, boot.PageSize, boot.ACIAMode)
}
