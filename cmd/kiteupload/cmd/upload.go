package cmd

import (
	"os"

	"github.com/assetnote/kiteupload/internal/upload"
	"github.com/assetnote/kiteupload/pkg/context"
	"github.com/assetnote/kiteupload/pkg/errors"
	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload INPUT URL",
	Short: "stream a file or stdin to a url",
	Long: `this will send INPUT as the body of a single request to URL.
Use - as INPUT to read from stdin.

Files are sent with a Content-Length header. stdin, or any input when --chunked is set,
is sent with chunked transfer encoding.

The placeholders {id}, {name} and {size} are substituted in the url and in header values,
where id is the unique id of the upload, name the base name of the file and size its size in bytes
(-1 for stdin).

usage:
kiteupload upload backup.tar.gz https://storage.example.com/backups/{name}
kiteupload upload - https://storage.example.com/stream -X POST -H 'Content-Type: application/gzip'
kiteupload upload report.pdf https://internal.example.com/ --ca-bundle ca.pem --assert-hostname internal
`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		input, target := args[0], args[1]

		cfg := upload.NewDefaultConfig()
		if err := viper.Unmarshal(&cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to load upload config")
		}
		if viper.GetBool("quiet") {
			cfg.ProgressBar = false
		}
		opts := append(cfg.Options(), upload.URL(target))

		res, err := upload.Upload(context.Context(), input, opts...)
		if res != nil && !viper.GetBool("quiet") {
			if werr := res.Write(os.Stdout, log.GetLogFormat()); werr != nil {
				log.Error().Err(werr).Msg("failed to write result")
			}
		}
		if err != nil {
			errors.PrintError(err, 0)
			log.Fatal().Err(err).Msg("failed to upload")
		}
		log.Info().Object("result", res).Msg("upload complete")
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	def := upload.NewDefaultConfig()
	f := uploadCmd.Flags()
	f.StringP("method", "X", def.Method, "http method to upload with")
	f.StringSliceP("header", "H", nil, "headers to add to the request in the 'Key: Value' format")
	f.Int("chunk-size", def.ChunkSize, "number of bytes read from the input and sent per write")
	f.Bool("chunked", def.Chunked, "use chunked transfer encoding even when the size of the input is known")
	f.DurationP("timeout", "t", def.Timeout, "timeout for connecting and for every read and write")
	f.String("user-agent", def.UserAgent, "user agent to use for the request")
	f.IntP("max-connection-per-host", "x", def.MaxConnPerHost, "max connections to a single host")
	f.StringSlice("proxy", nil, "proxies in the [scheme|scheme://host|all=]proxy format. proxied uploads use CONNECT")
	f.BoolP("insecure", "k", def.Insecure, "skip certificate verification")
	f.String("ca-bundle", def.CABundle, "pem file of trusted root certificates")
	f.String("cert", def.Cert, "pem client certificate")
	f.String("key", def.Key, "pem client key. defaults to the certificate file")
	f.String("assert-hostname", def.AssertHostname, "verify the server certificate against this name instead of the url host")
	f.Bool("progress-bar", def.ProgressBar, "show a progress bar for uploads of known size")
	f.StringSlice("expect-status", def.ExpectStatus, "status codes or ranges like 200-299 that count as success. empty accepts any")
	f.Bool("decode-response", def.DecodeResponse, "decode gzip and deflate response bodies")

	viper.BindPFlags(f)
}
