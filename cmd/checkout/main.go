package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
)

func newApp() *cli.App {
	cartFlag := &cli.StringFlag{Name: "cart", Aliases: []string{"c"}, Usage: "cart JSON file (array of cart entries), - for stdin", Required: true}
	shippingFlag := &cli.StringFlag{Name: "shipping", Usage: "shipping fee override, e.g. 7.50"}

	return &cli.App{
		Name:  "checkout",
		Usage: "Relove Market checkout operator tool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load before reading CHECKOUT_* variables"},
			&cli.StringFlag{Name: "api", Usage: "backend base URL (overrides CHECKOUT_API_BASE_URL)"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"},
		},
		Before: func(c *cli.Context) error {
			if err := config.LoadDotEnv(c.String("env-file")); err != nil {
				return err
			}
			if api := c.String("api"); api != "" {
				return os.Setenv("CHECKOUT_API_BASE_URL", api)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "quote",
				Usage:  "normalize a cart and print its totals",
				Flags:  []cli.Flag{cartFlag, shippingFlag},
				Action: quoteCommand,
			},
			{
				Name:   "validate",
				Usage:  "check a cart against backend stock",
				Flags:  []cli.Flag{cartFlag},
				Action: validateCommand,
			},
			{
				Name:  "pay",
				Usage: "run a full checkout for a cart",
				Flags: []cli.Flag{
					cartFlag,
					shippingFlag,
					&cli.StringFlag{Name: "buyer", Usage: "buyer user id", Required: true},
					&cli.StringFlag{Name: "method", Value: "card", Usage: "card or wallet"},
					&cli.StringFlag{Name: "wallet-type", Usage: "processor wallet type (grabpay, fpx)"},
					&cli.StringFlag{Name: "token", Usage: "payment method token, e.g. pm_card_visa"},
					&cli.StringFlag{Name: "return-url", Usage: "redirect URL for wallet payments"},
					&cli.IntFlag{Name: "reconcile-attempts", Value: 3, Usage: "extra attempts while the order confirmation or the payment outcome is pending"},
				},
				Action: payCommand,
			},
			{
				Name:  "reconcile",
				Usage: "re-send the confirmation of a captured payment",
				Flags: []cli.Flag{
					cartFlag,
					shippingFlag,
					&cli.StringFlag{Name: "intent", Usage: "payment intent id", Required: true},
					&cli.StringFlag{Name: "order", Usage: "order id", Required: true},
					&cli.StringFlag{Name: "buyer", Usage: "buyer user id", Required: true},
					&cli.StringFlag{Name: "method", Value: "card", Usage: "payment method recorded on the order"},
				},
				Action: reconcileCommand,
			},
			{
				Name:      "order",
				Usage:     "show an order",
				ArgsUsage: "<order-id>",
				Action:    orderCommand,
			},
			{
				Name:  "orders",
				Usage: "list orders, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "order status, e.g. pending"},
					&cli.StringFlag{Name: "user", Usage: "buyer user id"},
					&cli.StringFlag{Name: "seller", Usage: "seller id"},
					&cli.StringFlag{Name: "from", Usage: "created on or after (YYYY-MM-DD or RFC 3339)"},
					&cli.StringFlag{Name: "to", Usage: "created on or before (YYYY-MM-DD or RFC 3339)"},
					&cli.IntFlag{Name: "page", Value: 1},
				},
				Action: ordersCommand,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("checkout: %v", err)
	}
}
