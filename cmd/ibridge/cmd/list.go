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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/mobiledevkit/ibridge/pkg/usb"
	"github.com/mobiledevkit/ibridge/pkg/usb/discovery"
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolP("watch", "w", false, "watch for devices until interrupted")
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:           "list",
	Short:         "List connected devices",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			conn, err := usb.NewConn()
			if err != nil {
				return fmt.Errorf("failed to connect to usbmuxd: %w", err)
			}
			defer conn.Close()

			devices, err := conn.ListDevices()
			if err != nil {
				return err
			}
			for _, dev := range devices {
				fmt.Println(dev)
			}
			return nil
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		watcher := discovery.NewWatcher(nil)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()

		<-ctx.Done()

		for _, dev := range watcher.Registry().List() {
			fmt.Println(dev)
		}
		return nil
	},
}
