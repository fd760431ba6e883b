//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package credentials_test

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/netmedia/pkg/credentials"
	"github.com/joe/netmedia/pkg/filesystem"
)

func newSQLiteStore(t *testing.T) *credentials.SQLiteStore {
	t.Helper()

	store, err := credentials.OpenSQLite(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// stores runs each contract test against every Store implementation.
func stores(t *testing.T) map[string]credentials.Store {
	t.Helper()

	return map[string]credentials.Store{
		"memory": credentials.NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_SaveNormalizesAndLooksUp(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()

			creds := &credentials.Credentials{
				Protocol: filesystem.ProtocolSMB, Host: " FileServer ", Share: "/Media/", Username: "u", Domain: "WORK",
			}
			g.Expect(store.Save(ctx, creds)).Should(Succeed())
			g.Expect(creds.ID).ShouldNot(BeEmpty())
			g.Expect(creds.Port).Should(Equal(445))

			byID, err := store.ByID(ctx, creds.ID)
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(*byID).Should(Equal(*creds))

			byPort, err := store.ByTypeServerAndPort(ctx, filesystem.ProtocolSMB, "fileserver", 445)
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(byPort.ID).Should(Equal(creds.ID))

			byShare, err := store.ByServerAndShare(ctx, "FILESERVER", "media")
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(byShare.Domain).Should(Equal("WORK"))

			missing, err := store.ByTypeServerAndPort(ctx, filesystem.ProtocolSFTP, "fileserver", 445)
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(missing).Should(BeNil())

			missing, err = store.ByID(ctx, "nope")
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(missing).Should(BeNil())
		})
	}
}

func TestStore_UpdateDeleteAndList(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			ctx := context.Background()

			first := &credentials.Credentials{ID: "a", Protocol: filesystem.ProtocolFTP, Host: "nas", Username: "one"}
			second := &credentials.Credentials{ID: "b", Protocol: filesystem.ProtocolSFTP, Host: "nas", Username: "two"}

			g.Expect(store.Save(ctx, first)).Should(Succeed())
			g.Expect(store.Save(ctx, second)).Should(Succeed())

			first.Password = "changed"
			g.Expect(store.Save(ctx, first)).Should(Succeed())

			all, err := store.List(ctx)
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(all).Should(HaveLen(2))
			g.Expect(all[0].Password).Should(Equal("changed"))

			byServer, err := store.ByServer(ctx, "NAS")
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(byServer).Should(HaveLen(2))

			g.Expect(store.Delete(ctx, "a")).Should(Succeed())
			g.Expect(store.Delete(ctx, "a")).Should(Succeed())

			all, err = store.List(ctx)
			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(all).Should(HaveLen(1))
			g.Expect(all[0].ID).Should(Equal("b"))
		})
	}
}

func TestOpenSQLite_ReopenKeepsDataAndSchema(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "creds.db")

	store, err := credentials.OpenSQLite(ctx, dbPath, nil)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(store.Save(ctx, &credentials.Credentials{ID: "x", Protocol: filesystem.ProtocolFTP, Host: "h"})).Should(Succeed())
	g.Expect(store.Close()).Should(Succeed())

	reopened, err := credentials.OpenSQLite(ctx, dbPath, nil)
	g.Expect(err).ShouldNot(HaveOccurred())

	defer func() { _ = reopened.Close() }()

	creds, err := reopened.ByID(ctx, "x")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(creds.Port).Should(Equal(21))
}
