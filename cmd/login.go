package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/andresmejia3/rollcall/internal/api"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginEmail    string
	loginPassword string
	loginSave     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the attendance backend and print a bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginPassword == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			pw, err := readPassword(os.Stdin)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fail("Failed to read password", err, nil)
			}
			loginPassword = pw
		}

		client, err := newClient()
		if err != nil {
			return err
		}

		resp, err := client.Login(cmd.Context(), loginEmail, loginPassword)
		if err != nil {
			return fail("Login failed", err, nil)
		}

		fmt.Fprintf(os.Stderr, "✅ Signed in as %s (%s)\n", resp.Name, resp.Role)
		if exp, ok, err := api.TokenExpiry(resp.Token); err == nil && ok {
			fmt.Fprintf(os.Stderr, "⏳ Token valid until %s\n", exp.Local().Format("2006-01-02 15:04"))
		}

		if loginSave != "" {
			if err := saveToken(loginSave, resp.Token); err != nil {
				return fail("Failed to save token", err, nil)
			}
			fmt.Fprintf(os.Stderr, "💾 Token saved to %s\n", loginSave)
			return nil
		}

		fmt.Println(resp.Token)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password (prompted when empty)")
	loginCmd.Flags().StringVar(&loginSave, "save", "", "Write ROLLCALL_TOKEN into this .env file instead of printing it")

	loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
}

// readPassword reads without echo from a terminal, or one line from piped input.
func readPassword(f *os.File) (string, error) {
	if fd := int(f.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(f)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// saveToken sets ROLLCALL_TOKEN in a dotenv file, keeping the other entries.
func saveToken(path, token string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env["ROLLCALL_TOKEN"] = token
	return godotenv.Write(env, path)
}
