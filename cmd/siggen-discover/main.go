package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rjboer/GoSigGen/internal/discovery"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "How long to browse")
	service := flag.String("service", discovery.ServiceType, "DNS-SD service type")
	flag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" Signal generator server discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.%s\n", *service, discovery.Domain)
	fmt.Printf(" Timeout : %s\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	hosts, err := discovery.Discover(context.Background(), *service, *timeout)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(hosts) == 0 {
		fmt.Printf("No servers found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}

	fmt.Printf("Discovered %d server(s) in %s\n", len(hosts), duration.Truncate(time.Millisecond))
	fmt.Println("===============================================================")

	for i, h := range hosts {
		fmt.Printf(" Server #%d\n", i+1)
		fmt.Println("---------------------------------------------------------------")
		fmt.Printf(" Instance : %s\n", h.Instance)
		fmt.Printf(" Hostname : %s\n", h.Hostname)
		fmt.Printf(" Port     : %d\n", h.Port)

		fmt.Println(" Addresses:")
		if len(h.Addresses) == 0 {
			fmt.Println("   <none>")
		}
		for _, ip := range h.Addresses {
			fmt.Printf("   - %s\n", ip.String())
		}

		if addr, ok := h.Addr(); ok {
			host, port, _ := net.SplitHostPort(addr)
			fmt.Printf(" Use      : -server-ip %s -server-port %s\n", host, port)
		}
		fmt.Println("===============================================================")
	}
}
