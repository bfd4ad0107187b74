package bill

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveBill", func() {
		var (
			bill *Bill
			err  error
		)

		BeforeEach(func() {
			bill = &Bill{
				ID:            "test-id",
				Vendor:        "CVS Pharmacy",
				Date:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
				Amount:        2599,
				Category:      "Doctor",
				ImageFilename: "test.jpg",
				ContentType:   "image/jpeg",
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveBill(bill)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the bill to the database", func() {
				saved, getErr := db.GetBill("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.ID).To(Equal("test-id"))
			})
		})

		When("saving an existing ID", func() {
			BeforeEach(func() {
				existing := &Bill{ID: "test-id", Vendor: "Old Vendor", Amount: 100}
				Expect(db.SaveBill(existing)).NotTo(HaveOccurred())
			})

			It("overwrites the record", func() {
				Expect(err).NotTo(HaveOccurred())
				saved, getErr := db.GetBill("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Vendor).To(Equal("CVS Pharmacy"))
			})
		})
	})

	Describe("GetBill", func() {
		var (
			billID string
			bill   *Bill
			err    error
		)

		JustBeforeEach(func() {
			bill, err = db.GetBill(billID)
		})

		When("bill exists", func() {
			BeforeEach(func() {
				billID = "test-id"
				testBill := &Bill{
					ID:            "test-id",
					Vendor:        "CVS Pharmacy",
					Date:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
					Amount:        2599,
					ImageFilename: "test.jpg",
					ContentType:   "image/jpeg",
					CreatedAt:     time.Now(),
					UpdatedAt:     time.Now(),
				}
				Expect(db.SaveBill(testBill)).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the correct bill ID", func() {
				Expect(bill.ID).To(Equal("test-id"))
			})

			It("should return the correct vendor", func() {
				Expect(bill.Vendor).To(Equal("CVS Pharmacy"))
			})

			It("should return the correct amount", func() {
				Expect(bill.Amount).To(Equal(2599))
			})

			It("should round-trip the date", func() {
				Expect(bill.Date).To(BeTemporally("==", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
			})
		})

		When("bill does not exist", func() {
			var expectedErr error

			BeforeEach(func() {
				billID = "nonexistent"
				expectedErr = errors.New("bill not found: nonexistent")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(expectedErr))
			})
		})
	})

	Describe("ListBills", func() {
		var (
			bills []*Bill
			err   error
		)

		JustBeforeEach(func() {
			bills, err = db.ListBills()
		})

		When("bills exist", func() {
			BeforeEach(func() {
				bill1 := &Bill{ID: "id1", Vendor: "Vendor 1", Amount: 100}
				bill2 := &Bill{ID: "id2", Vendor: "Vendor 2", Amount: 200}
				Expect(db.SaveBill(bill1)).NotTo(HaveOccurred())
				Expect(db.SaveBill(bill2)).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return all bills", func() {
				Expect(bills).To(HaveLen(2))
			})
		})

		When("no bills exist", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an empty list", func() {
				Expect(bills).To(BeEmpty())
			})
		})
	})

	Describe("DeleteBill", func() {
		var (
			billID string
			err    error
		)

		JustBeforeEach(func() {
			err = db.DeleteBill(billID)
		})

		When("bill exists", func() {
			BeforeEach(func() {
				billID = "test-id"
				bill := &Bill{ID: "test-id", Vendor: "Test", Amount: 100}
				Expect(db.SaveBill(bill)).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the bill from the database", func() {
				_, getErr := db.GetBill("test-id")
				Expect(getErr).To(HaveOccurred())
			})
		})

		When("bill does not exist", func() {
			BeforeEach(func() {
				billID = "nonexistent"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("Settings", func() {
		When("a setting has never been stored", func() {
			It("returns an empty value", func() {
				value, err := db.GetSetting("missing")
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(BeEmpty())
			})
		})

		When("a setting is stored", func() {
			BeforeEach(func() {
				Expect(db.PutSetting(settingMindeeKey, "md_test_key")).To(Succeed())
			})

			It("round-trips the value", func() {
				value, err := db.GetSetting(settingMindeeKey)
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(Equal("md_test_key"))
			})

			It("overwrites on a second put", func() {
				Expect(db.PutSetting(settingMindeeKey, "md_new_key")).To(Succeed())
				value, err := db.GetSetting(settingMindeeKey)
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(Equal("md_new_key"))
			})
		})
	})

	Describe("Usage", func() {
		When("no pages have been consumed", func() {
			It("returns zero", func() {
				count, err := db.UsageFor("01-2024")
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(0))
			})
		})

		When("incrementing", func() {
			It("returns the new count", func() {
				count, err := db.IncrementUsage("01-2024")
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(1))

				count, err = db.IncrementUsage("01-2024")
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(2))
			})

			It("tracks months independently", func() {
				_, err := db.IncrementUsage("01-2024")
				Expect(err).NotTo(HaveOccurred())

				count, err := db.UsageFor("02-2024")
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(0))
			})
		})
	})

	Describe("Close", func() {
		It("should not return an error", func() {
			err := db.Close()
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
