// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"camrec"
	"log"
	"os"
)

func main() {
	if err := camrec.Run(); err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}
