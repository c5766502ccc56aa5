/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command voyager is the one-shot CLI companion to the hwsurvey client
// library: point it at a server and a token and it submits one report.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gravwell/hwsurvey/client"
	"github.com/gravwell/hwsurvey/hostfacts"
	"github.com/gravwell/hwsurvey/ingest/log"
	"github.com/gravwell/hwsurvey/simdsp"
)

const applicationName = "voyager"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: voyager <url> <token>")
		return 2
	}
	url, token := args[0], args[1]

	lgr := log.New(os.Stderr)
	lgr.SetLevel(log.INFO)

	s := client.NewSender(applicationName, hostfacts.Default{}, simdsp.Default{}, lgr)
	if err := s.SendSynchronously(context.Background(), url, token, 1); err != nil {
		lgr.Error("unable to send metrics", log.KVErr(err))
		return 1
	}
	return 0
}
