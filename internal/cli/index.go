package cli

import (
	"fmt"

	"github.com/ralt/pipdeb/internal/models"
	"github.com/ralt/pipdeb/internal/repository"
	"github.com/ralt/pipdeb/internal/signer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewIndexCmd creates the index command
func NewIndexCmd() *cobra.Command {
	var (
		directory     string
		gpgKeyPath    string
		gpgPassphrase string
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Generate an APT index for the repository directory",
		Long: `Scans the repository directory for converted archives and writes the
Packages, Packages.gz and Release files apt needs to consume it as a
flat repository. A GPG key can be provided to sign the index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.New(directory)
			if err != nil {
				return &models.ConvertError{Type: models.ErrFileOp, Err: err}
			}

			var s signer.Signer
			if gpgKeyPath != "" {
				gpgSigner, err := signer.NewGPGSigner(gpgKeyPath, gpgPassphrase)
				if err != nil {
					return &models.ConvertError{
						Type: models.ErrInvalidConfig,
						Err:  fmt.Errorf("failed to initialize GPG signer: %w", err),
					}
				}
				s = gpgSigner
				logrus.Info("GPG signer initialized")
			}

			if err := repo.WriteIndex(cmd.Context(), s); err != nil {
				return err
			}
			logrus.Infof("Repository index generated in %s", directory)
			return nil
		},
	}

	cmd.Flags().StringVarP(&directory, "repository", "r", ".", "Repository directory to index")
	cmd.Flags().StringVarP(&gpgKeyPath, "gpg-key", "k", "", "Path to GPG private key")
	cmd.Flags().StringVarP(&gpgPassphrase, "gpg-passphrase", "p", "", "GPG key passphrase")

	return cmd
}
