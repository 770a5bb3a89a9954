// CLI de operación contra la API del servicio: disparar syncs, consultar el
// estado de los componentes de resiliencia y resetearlos tras un incidente.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("X-Admin-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	var (
		baseURL = envOr("CRMBRIDGE_URL", "http://localhost:8080")
		apiKey  = envOr("CRMBRIDGE_ADMIN_KEY", "")
		out     = envOr("CRMBRIDGE_OUT", "text")
		timeout = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "crmbridge",
		Short: "CLI de operación para el servicio de sync CRM",
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base del servicio (env CRMBRIDGE_URL)")
	root.PersistentFlags().StringVar(&apiKey, "admin-api-key", apiKey, "API key admin (env CRMBRIDGE_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	httpClient := &http.Client{Timeout: timeout}
	cl := &client{BaseURL: baseURL, APIKey: apiKey, OutFormat: out, HTTP: httpClient}

	// ─── sync ───
	var (
		syncMode     string
		syncPageSize int
		syncMaxPages int
		syncCursor   string
		syncForce    bool
		syncWait     bool
	)
	syncCmd := &cobra.Command{
		Use:   "sync <entityType>",
		Short: "Dispara un run de sync para un entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"mode":      syncMode,
				"page_size": syncPageSize,
				"max_pages": syncMaxPages,
				"cursor":    syncCursor,
				"force":     syncForce,
			}
			b, _ := json.Marshal(payload)
			path := "/v1/sync/" + url.PathEscape(args[0])
			if syncWait {
				path += "?wait=true"
			}
			status, body, err := cl.do("POST", path, b)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("sync fallo: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
	syncCmd.Flags().StringVar(&syncMode, "mode", "incremental", "Modo: incremental|full")
	syncCmd.Flags().IntVar(&syncPageSize, "page-size", 0, "Tamaño de página pedido (0 = lo decide el governor)")
	syncCmd.Flags().IntVar(&syncMaxPages, "max-pages", 0, "Tope de páginas (0 = default del modo)")
	syncCmd.Flags().StringVar(&syncCursor, "cursor", "", "Cursor para retomar un run diferido")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Ignorar el veredicto del health probe")
	syncCmd.Flags().BoolVar(&syncWait, "wait", false, "Ejecutar inline y esperar el resultado")

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Estado de los componentes de resiliencia",
	}
	for _, comp := range []string{"rate", "circuit", "memory", "health"} {
		comp := comp
		statusCmd.AddCommand(&cobra.Command{
			Use:   comp,
			Short: "Estado de " + comp,
			RunE: func(cmd *cobra.Command, args []string) error {
				status, body, err := cl.do("GET", "/v1/status/"+comp, nil)
				if err != nil {
					return err
				}
				if status/100 != 2 {
					return fmt.Errorf("status fallo: status=%d body=%s", status, string(body))
				}
				cl.print(status, body)
				return nil
			},
		})
	}

	// ─── reset ───
	var resetClass, resetOp string
	resetCmd := &cobra.Command{
		Use:   "reset <component>",
		Short: "Resetea un componente (rate|circuit|health)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("falta API key (flag --admin-api-key o env CRMBRIDGE_ADMIN_KEY)")
			}
			q := url.Values{}
			if resetClass != "" {
				q.Set("class", resetClass)
			}
			if resetOp != "" {
				q.Set("op", resetOp)
			}
			path := "/v1/admin/reset/" + url.PathEscape(args[0])
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			status, body, err := cl.do("POST", path, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("reset fallo: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
	resetCmd.Flags().StringVar(&resetClass, "class", "", "Clase de endpoint (requerido para rate)")
	resetCmd.Flags().StringVar(&resetOp, "op", "", "Operación del circuito (vacío = todas)")

	// ─── replay ───
	var replayWait bool
	replayCmd := &cobra.Command{
		Use:   "replay <event.json>",
		Short: "Reinyecta un evento de webhook desde un archivo ('-' = stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				b   []byte
				err error
			)
			if args[0] == "-" {
				b, err = io.ReadAll(os.Stdin)
			} else {
				b, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			path := "/v1/webhooks/crm"
			if replayWait {
				path += "?wait=true"
			}
			status, body, err := cl.do("POST", path, b)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("replay fallo: status=%d body=%s", status, string(body))
			}
			cl.print(status, body)
			return nil
		},
	}
	replayCmd.Flags().BoolVar(&replayWait, "wait", false, "Aplicar inline y esperar el resultado")

	root.AddCommand(syncCmd)
	root.AddCommand(statusCmd)
	root.AddCommand(resetCmd)
	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
