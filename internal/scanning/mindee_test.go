package scanning

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// mockKeyStore is a mock implementation of KeyStore
type mockKeyStore struct {
	key    string
	keyErr error
}

func (m *mockKeyStore) APIKey() (string, error) {
	return m.key, m.keyErr
}

// mockUsageStore is a mock implementation of UsageStore
type mockUsageStore struct {
	counts map[string]int
}

func newMockUsageStore() *mockUsageStore {
	return &mockUsageStore{counts: make(map[string]int)}
}

func (m *mockUsageStore) UsageFor(month string) (int, error) {
	return m.counts[month], nil
}

func (m *mockUsageStore) IncrementUsage(month string) (int, error) {
	m.counts[month]++
	return m.counts[month], nil
}

func testPNG() []byte {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	Expect(png.Encode(&buf, img)).NotTo(HaveOccurred())
	return buf.Bytes()
}

var _ = Describe("Mindee", func() {
	var (
		apiServer *ghttp.Server
		keys      *mockKeyStore
		usage     *mockUsageStore
		client    *Mindee
	)

	BeforeEach(func() {
		apiServer = ghttp.NewServer()
		keys = &mockKeyStore{key: "test-key"}
		usage = newMockUsageStore()
		client = NewMindeeWithBaseURL(keys, usage, 250, apiServer.URL())
		client.now = func() time.Time {
			return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		}
	})

	AfterEach(func() {
		apiServer.Close()
	})

	Describe("Scan", func() {
		When("the API returns a prediction", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", receiptPredictPath),
					ghttp.VerifyHeaderKV("Authorization", "Token test-key"),
					ghttp.RespondWithJSONEncoded(http.StatusCreated, map[string]any{
						"document": map[string]any{
							"inference": map[string]any{
								"prediction": map[string]any{
									"supplier_name": map[string]any{"value": "CVS Pharmacy"},
									"date":          map[string]any{"value": "2024-01-15"},
									"total_amount":  map[string]any{"value": 25.99},
								},
							},
						},
					}),
				))
			})

			It("extracts the receipt fields", func() {
				fields, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(fields.Vendor).To(Equal("CVS Pharmacy"))
				Expect(fields.Date).To(Equal("2024-01-15"))
				Expect(fields.Amount).To(Equal(25.99))
			})

			It("counts the page against the current month", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(usage.counts["01-2024"]).To(Equal(1))
			})
		})

		When("the prediction has null fields", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", receiptPredictPath),
					ghttp.RespondWithJSONEncoded(http.StatusCreated, map[string]any{
						"document": map[string]any{
							"inference": map[string]any{
								"prediction": map[string]any{
									"supplier_name": map[string]any{"value": nil},
									"date":          map[string]any{"value": nil},
									"total_amount":  map[string]any{"value": nil},
								},
							},
						},
					}),
				))
			})

			It("applies draft defaults", func() {
				fields, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(fields.Vendor).To(Equal("Unknown Vendor"))
				Expect(fields.Date).NotTo(BeEmpty())
				Expect(fields.Amount).To(Equal(0.0))
			})
		})

		When("no API key is configured", func() {
			BeforeEach(func() {
				keys.key = ""
			})

			It("returns ErrAPIKeyMissing without calling the API", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(errors.Is(err, ErrAPIKeyMissing)).To(BeTrue())
				Expect(apiServer.ReceivedRequests()).To(BeEmpty())
			})
		})

		When("the API rejects the key", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, nil))
			})

			It("returns ErrInvalidAPIKey", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(errors.Is(err, ErrInvalidAPIKey)).To(BeTrue())
			})

			It("does not count the page", func() {
				client.Scan(context.Background(), testPNG(), "image/png")
				Expect(usage.counts["01-2024"]).To(Equal(0))
			})
		})

		When("the monthly quota is exhausted", func() {
			BeforeEach(func() {
				usage.counts["01-2024"] = 250
			})

			It("returns ErrQuotaExhausted without calling the API", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(errors.Is(err, ErrQuotaExhausted)).To(BeTrue())
				Expect(apiServer.ReceivedRequests()).To(BeEmpty())
			})
		})

		When("quota enforcement is disabled", func() {
			BeforeEach(func() {
				client = NewMindeeWithBaseURL(keys, usage, 0, apiServer.URL())
				usage.counts[MonthKey(time.Now())] = 9999
				apiServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusCreated, map[string]any{}))
			})

			It("scans regardless of recorded usage", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the API rate limits the account", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, nil))
			})

			It("returns ErrQuotaExhausted", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(errors.Is(err, ErrQuotaExhausted)).To(BeTrue())
			})
		})

		When("the API fails", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "upstream exploded"))
			})

			It("returns an error carrying the status and detail", func() {
				_, err := client.Scan(context.Background(), testPNG(), "image/png")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("500"))
				Expect(err.Error()).To(ContainSubstring("upstream exploded"))
			})
		})

		When("the upload is not a decodable image", func() {
			It("returns an error without calling the API", func() {
				_, err := client.Scan(context.Background(), []byte("not an image"), "image/jpeg")
				Expect(err).To(HaveOccurred())
				Expect(apiServer.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("ValidateKey", func() {
		When("the key is accepted", func() {
			BeforeEach(func() {
				// A bodyless predict request fails validation, not authentication.
				apiServer.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", receiptPredictPath),
					ghttp.VerifyHeaderKV("Authorization", "Token candidate-key"),
					ghttp.RespondWith(http.StatusBadRequest, nil),
				))
			})

			It("returns no error", func() {
				Expect(client.ValidateKey(context.Background(), "candidate-key")).To(Succeed())
			})
		})

		When("the key is rejected", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.RespondWith(http.StatusForbidden, nil))
			})

			It("returns ErrInvalidAPIKey", func() {
				err := client.ValidateKey(context.Background(), "bad-key")
				Expect(errors.Is(err, ErrInvalidAPIKey)).To(BeTrue())
			})
		})

		When("the key is empty", func() {
			It("returns ErrAPIKeyMissing without calling the API", func() {
				err := client.ValidateKey(context.Background(), "")
				Expect(errors.Is(err, ErrAPIKeyMissing)).To(BeTrue())
				Expect(apiServer.ReceivedRequests()).To(BeEmpty())
			})
		})

		When("the API is down", func() {
			BeforeEach(func() {
				apiServer.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, nil))
			})

			It("returns an error", func() {
				err := client.ValidateKey(context.Background(), "some-key")
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, ErrInvalidAPIKey)).To(BeFalse())
			})
		})
	})

	Describe("Usage", func() {
		When("pages have been consumed", func() {
			BeforeEach(func() {
				usage.counts["01-2024"] = 42
			})

			It("reports used and remaining", func() {
				used, remaining, err := client.Usage()
				Expect(err).NotTo(HaveOccurred())
				Expect(used).To(Equal(42))
				Expect(remaining).To(Equal(208))
			})
		})

		When("usage exceeds the limit", func() {
			BeforeEach(func() {
				usage.counts["01-2024"] = 300
			})

			It("clamps remaining to zero", func() {
				_, remaining, err := client.Usage()
				Expect(err).NotTo(HaveOccurred())
				Expect(remaining).To(Equal(0))
			})
		})
	})
})

var _ = Describe("MonthKey", func() {
	It("formats the month as MM-YYYY", func() {
		Expect(MonthKey(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))).To(Equal("03-2024"))
	})
})
