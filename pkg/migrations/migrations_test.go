package migrations_test

import (
	"os"
	"path"

	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	"github.com/PaolaCartala/compliance-local-ai/internal/store"
	"github.com/PaolaCartala/compliance-local-ai/pkg/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("migrations", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
	})

	AfterAll(func() {
		s.Close()
	})

	sqliteObjectExists := func(kind, name string) bool {
		var count int64
		tx := gormdb.Raw("SELECT count(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&count)
		Expect(tx.Error).To(BeNil())
		return count == 1
	}

	Context("store migrations", Ordered, func() {
		It("fails to migrate the db -- migration folder does not exist", func() {
			err := migrations.MigrateStore(gormdb, "some folder")
			Expect(err).NotTo(BeNil())
		})

		It("fails to migrate the db -- migration folder is a file", func() {
			currentFolder, err := os.Getwd()
			Expect(err).To(BeNil())

			err = migrations.MigrateStore(gormdb, path.Join(currentFolder, "migrations.go"))
			Expect(err).NotTo(BeNil())
		})

		It("successfully migrates the db from the embedded migrations", func() {
			Expect(migrations.MigrateStore(gormdb, "")).To(Succeed())

			for _, table := range []string{"jobs", "audit_events"} {
				Expect(sqliteObjectExists("table", table)).To(BeTrue())
			}
			Expect(sqliteObjectExists("index", "jobs_pending_queue")).To(BeTrue())
			Expect(sqliteObjectExists("index", "audit_events_job_sequence")).To(BeTrue())
		})

		It("successfully migrates the db from a folder and is idempotent", func() {
			currentFolder, err := os.Getwd()
			Expect(err).To(BeNil())

			Expect(migrations.MigrateStore(gormdb, path.Join(currentFolder, "sql"))).To(Succeed())
			Expect(migrations.MigrateStore(gormdb, path.Join(currentFolder, "sql"))).To(Succeed())
			Expect(sqliteObjectExists("table", "jobs")).To(BeTrue())
		})

		AfterEach(func() {
			gormdb.Exec("DROP TABLE IF EXISTS audit_events;")
			gormdb.Exec("DROP TABLE IF EXISTS jobs;")
			gormdb.Exec("DROP TABLE IF EXISTS goose_db_version;")
		})
	})
})
