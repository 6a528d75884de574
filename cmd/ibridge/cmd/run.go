/*
Copyright © 2026 mobiledevkit

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/mobiledevkit/ibridge/internal/config"
	"github.com/mobiledevkit/ibridge/pkg/lldb"
	"github.com/mobiledevkit/ibridge/pkg/usb/debugserver"
	"github.com/mobiledevkit/ibridge/pkg/usb/forward"
	"github.com/mobiledevkit/ibridge/pkg/usb/installation"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:           "run <local-binary> <bundle-id> [-- <args>...]",
	Short:         "Run an installed app under lldb through the debug proxy",
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		localBinary := args[0]
		bundleID := args[1]
		processArgs := strings.Join(args[2:], " ")

		udid, err := targetUDID(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		img, err := ensureDeveloperImage(cfg, udid)
		if err != nil {
			return err
		}

		ic, err := installation.NewClient(udid)
		if err != nil {
			return err
		}
		remotePath, err := ic.RemotePath(bundleID)
		ic.Close()
		if err != nil {
			return err
		}

		ds, err := debugserver.NewClient(udid)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		bridge, err := forward.Start(ctx, ds.Conn())
		if err != nil {
			ds.Close()
			return err
		}
		defer bridge.Stop()

		log.WithFields(log.Fields{
			"proxy":  bridge.Addr(),
			"remote": remotePath,
		}).Info("starting lldb")

		launch := &lldb.Launch{
			LLDB:        cfg.LLDB,
			LocalBinary: localBinary,
			Proxy:       bridge.Addr(),
			RemotePath:  remotePath,
			Sysroot:     img.Dir,
			Args:        processArgs,
		}
		return launch.Run()
	},
}
