package cmd

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"grimm.is/luci/internal/auth"
	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/config"
)

// stdin feeds passwd -stdin.
var stdin io.Reader = os.Stdin

// RunPasswd handles the "passwd" command. It creates the user if needed
// and stores a bcrypt hash of the new password in the users file.
func RunPasswd(args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	configFile := fs.String("config", brand.GetConfigFile(), "Configuration file")
	fs.StringVar(configFile, "c", brand.GetConfigFile(), "Configuration file (short)")
	roleName := fs.String("role", "admin", "Role for a new user: admin, viewer")
	fromStdin := fs.Bool("stdin", false, "Read the password from standard input")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: passwd [-role admin|viewer] [-stdin] <user>")
	}
	username := fs.Arg(0)

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return err
	}
	role, err := auth.ParseRole(*roleName)
	if err != nil {
		return err
	}

	var password string
	if *fromStdin {
		password, err = readPassword(stdin)
	} else {
		password, err = promptPassword(username)
	}
	if err != nil {
		return err
	}
	if err := auth.ValidatePassword(password, auth.DefaultPasswordPolicy(), username); err != nil {
		return err
	}

	users, err := auth.NewStore(auth.Options{Path: cfg.Auth.UsersFile})
	if err != nil {
		return err
	}
	if _, err := users.GetUser(username); errors.Is(err, auth.ErrUserNotFound) {
		if err := users.CreateUser(username, password, role); err != nil {
			return err
		}
		Printer.Fprintf(stdout, "User %s created.\n", username)
		return nil
	}
	if err := users.SetPassword(username, password); err != nil {
		return err
	}
	Printer.Fprintf(stdout, "Password for %s changed.\n", username)
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func promptPassword(username string) (string, error) {
	var password, confirm string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("New password for %s", username)).
			EchoMode(huh.EchoModePassword).
			Value(&password),
		huh.NewInput().
			Title("Retype password").
			EchoMode(huh.EchoModePassword).
			Value(&confirm).
			Validate(func(s string) error {
				if s != password {
					return errors.New("passwords do not match")
				}
				return nil
			}),
	)).WithTheme(huh.ThemeBase16()).Run()
	return password, err
}
