// Command ircdebug connects to a server, drives a Session, and prints every
// raw line and decoded event to the terminal. It exists to exercise the irc
// package end to end; it is not a chat client.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"git.sr.ht/~taiite/girc/irc"
	"gopkg.in/yaml.v2"
)

type profile struct {
	Address  string `yaml:"address"`
	Nick     string `yaml:"nick"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	Proxy    string `yaml:"proxy"`
}

func main() {
	var (
		configPath string
		address    string
		nick       string
		password   string
		useTLS     bool
	)
	flag.StringVar(&configPath, "config", "", "path to a yaml connection profile")
	flag.StringVar(&address, "address", "", "server address, host:port")
	flag.StringVar(&nick, "nick", "ircdebug", "nickname to register with")
	flag.StringVar(&password, "password", "", "SASL PLAIN password")
	flag.BoolVar(&useTLS, "tls", false, "use TLS")
	flag.Parse()

	if configPath != "" {
		p, err := loadProfile(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		address = p.Address
		nick = p.Nick
		password = p.Password
		useTLS = p.TLS
	}

	if address == "" {
		fmt.Fprintln(os.Stderr, "ircdebug: -address or -config is required")
		os.Exit(1)
	}

	conn, err := irc.Dial(context.Background(), address, irc.DialOptions{TLS: useTLS})
	if err != nil {
		fmt.Fprintln(os.Stderr, "ircdebug: dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	in, out := irc.ChanInOut(conn, irc.FloodLimits{})

	var auth irc.SASLClient
	if password != "" {
		auth = &irc.SASLPlain{Username: nick, Password: password}
	}
	sess := irc.NewSession(out, irc.SessionParams{
		Nickname: nick,
		Username: nick,
		RealName: nick,
		Auth:     auth,
	})

	go readStdin(sess)

	for msg := range in {
		fmt.Printf("<- %s\n", msg.Serialize())
		if ev := sess.HandleMessage(msg); ev != nil {
			fmt.Printf("   event: %#v\n", ev)
		}
	}
	sess.HandleDisconnect()
	fmt.Println("disconnected")
}

func readStdin(sess *irc.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		sess.Send(scanner.Text())
	}
}

func loadProfile(path string) (profile, error) {
	var p profile
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&p); err != nil {
		return p, err
	}
	return p, nil
}
