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
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/mobiledevkit/ibridge/internal/config"
	"github.com/mobiledevkit/ibridge/pkg/usb/debugserver"
	"github.com/mobiledevkit/ibridge/pkg/usb/forward"
)

func init() {
	rootCmd.AddCommand(proxyCmd)
}

// proxyCmd represents the proxy command
var proxyCmd = &cobra.Command{
	Use:           "proxy",
	Short:         "Expose the device debug service on a local TCP port",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		udid, err := targetUDID(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// debugserver refuses to start without the developer image
		if _, err := ensureDeveloperImage(cfg, udid); err != nil {
			return err
		}

		ds, err := debugserver.NewClient(udid)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		bridge, err := forward.Start(ctx, ds.Conn())
		if err != nil {
			ds.Close()
			return err
		}
		defer bridge.Stop()

		log.WithField("addr", bridge.Addr()).Info("debug proxy listening")

		<-ctx.Done()
		return nil
	},
}
